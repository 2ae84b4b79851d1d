package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmem/internal/ctxkeys"
)

// Principal is the caller identity consulted by access policies.
type Principal = ctxkeys.Principal

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return ctxkeys.WithPrincipal(ctx, p)
}

// PrincipalFromContext returns the principal attached to ctx, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	return ctxkeys.PrincipalFrom(ctx)
}

// AccessPolicy decides whether the caller in ctx may run op on resourceID.
type AccessPolicy interface {
	Allow(ctx context.Context, op, resourceID string) bool
}

// AccessPolicyFunc adapts a function to AccessPolicy.
type AccessPolicyFunc func(ctx context.Context, op, resourceID string) bool

// Allow calls f.
func (f AccessPolicyFunc) Allow(ctx context.Context, op, resourceID string) bool {
	return f(ctx, op, resourceID)
}

// AllowAllPolicy 放行所有请求，仅记录调试日志
type AllowAllPolicy struct {
	logger *zap.Logger
}

// NewAllowAllPolicy 创建放行策略
func NewAllowAllPolicy(logger *zap.Logger) *AllowAllPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllowAllPolicy{logger: logger.With(zap.String("component", "memory_access"))}
}

// Allow always returns true.
func (p *AllowAllPolicy) Allow(ctx context.Context, op, resourceID string) bool {
	p.logger.Debug("access allowed",
		zap.String("operation", op),
		zap.String("resource", resourceID))
	return true
}

// wildcardOperation grants every operation to a role.
const wildcardOperation = "*"

// RolePolicy 基于角色的访问控制。
// 调用方角色 = context 中 Principal 自带的角色 ∪ 配置中该用户的角色；
// 任一角色允许该操作即放行。没有 Principal 的请求一律拒绝。
type RolePolicy struct {
	roles map[string]map[string]struct{}
	users map[string][]string
}

// NewRolePolicy builds a policy from role -> operations and user -> roles
// tables.
func NewRolePolicy(roles map[string][]string, users map[string][]string) *RolePolicy {
	p := &RolePolicy{
		roles: make(map[string]map[string]struct{}, len(roles)),
		users: make(map[string][]string, len(users)),
	}
	for role, ops := range roles {
		set := make(map[string]struct{}, len(ops))
		for _, op := range ops {
			set[op] = struct{}{}
		}
		p.roles[role] = set
	}
	for user, rs := range users {
		p.users[user] = append([]string(nil), rs...)
	}
	return p
}

// Allow implements AccessPolicy.
func (p *RolePolicy) Allow(ctx context.Context, op, resourceID string) bool {
	principal, ok := ctxkeys.PrincipalFrom(ctx)
	if !ok {
		return false
	}
	for _, list := range [][]string{principal.Roles, p.users[principal.UserID]} {
		for _, role := range list {
			ops, ok := p.roles[role]
			if !ok {
				continue
			}
			if _, ok := ops[wildcardOperation]; ok {
				return true
			}
			if _, ok := ops[op]; ok {
				return true
			}
		}
	}
	return false
}

// principalClaims 身份令牌载荷
type principalClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// ParsePrincipalToken verifies an HS256 token and returns its principal:
// the subject becomes UserID and the "roles" claim becomes Roles.
func ParsePrincipalToken(token, secret string) (Principal, error) {
	if secret == "" {
		return Principal{}, errors.New("jwt secret is not configured")
	}
	claims := &principalClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("parse principal token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, errors.New("principal token has no subject")
	}
	return Principal{UserID: sub, Roles: claims.Roles}, nil
}
