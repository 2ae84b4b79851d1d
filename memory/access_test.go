package memory

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmem/testutil"
)

func TestRolePolicy_Allow(t *testing.T) {
	p := NewRolePolicy(
		map[string][]string{
			"reader": {OpGetItem, OpSearchByTags},
			"writer": {OpStoreItem},
			"admin":  {"*"},
		},
		map[string][]string{"carol": {"writer"}},
	)
	ctx := testutil.TestContext(t)

	tests := []struct {
		name      string
		principal *Principal
		op        string
		want      bool
	}{
		{"no principal", nil, OpGetItem, false},
		{"reader reads", &Principal{UserID: "bob", Roles: []string{"reader"}}, OpGetItem, true},
		{"reader writes", &Principal{UserID: "bob", Roles: []string{"reader"}}, OpStoreItem, false},
		{"configured user role", &Principal{UserID: "carol"}, OpStoreItem, true},
		{"union of roles", &Principal{UserID: "carol", Roles: []string{"reader"}}, OpSearchByTags, true},
		{"wildcard", &Principal{UserID: "root", Roles: []string{"admin"}}, OpDeleteConversation, true},
		{"unknown role", &Principal{UserID: "eve", Roles: []string{"ghost"}}, OpGetItem, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ctx
			if tt.principal != nil {
				c = WithPrincipal(ctx, *tt.principal)
			}
			assert.Equal(t, tt.want, p.Allow(c, tt.op, "res"))
		})
	}
}

func TestAllowAllPolicy(t *testing.T) {
	p := NewAllowAllPolicy(nil)
	assert.True(t, p.Allow(testutil.TestContext(t), OpDeleteItem, "k"))
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestParsePrincipalToken(t *testing.T) {
	secret := "jwt-secret"
	valid := signToken(t, jwt.SigningMethodHS256, []byte(secret), principalClaims{
		Roles: []string{"reader", "writer"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	p, err := ParsePrincipalToken(valid, secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, []string{"reader", "writer"}, p.Roles)

	got, ok := PrincipalFromContext(WithPrincipal(testutil.TestContext(t), p))
	require.True(t, ok)
	assert.Equal(t, p, got)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := ParsePrincipalToken(valid, "other")
		assert.Error(t, err)
	})
	t.Run("expired", func(t *testing.T) {
		expired := signToken(t, jwt.SigningMethodHS256, []byte(secret), principalClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "alice",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})
		_, err := ParsePrincipalToken(expired, secret)
		assert.Error(t, err)
	})
	t.Run("wrong algorithm", func(t *testing.T) {
		hs512 := signToken(t, jwt.SigningMethodHS512, []byte(secret), principalClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
		})
		_, err := ParsePrincipalToken(hs512, secret)
		assert.Error(t, err)
	})
	t.Run("missing subject", func(t *testing.T) {
		anon := signToken(t, jwt.SigningMethodHS256, []byte(secret), principalClaims{Roles: []string{"admin"}})
		_, err := ParsePrincipalToken(anon, secret)
		assert.Error(t, err)
	})
	t.Run("no secret configured", func(t *testing.T) {
		_, err := ParsePrincipalToken(valid, "")
		assert.Error(t, err)
	})
}
