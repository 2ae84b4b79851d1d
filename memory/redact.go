package memory

import (
	"fmt"
	"regexp"
)

// DefaultSensitivePatterns 默认敏感信息正则：邮箱、电话、卡号、SSN
var DefaultSensitivePatterns = []string{
	// 邮箱
	`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
	// 电话: 可选国家码，3-3-4 分组
	`(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`,
	// 卡号: 13-16 位数字，允许空格或连字符分隔
	`\b(?:\d[ -]?){12,15}\d\b`,
	// SSN
	`\b\d{3}-\d{2}-\d{4}\b`,
}

// compilePatterns 编译敏感信息正则，为空时使用默认集合
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		patterns = DefaultSensitivePatterns
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid sensitive pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Redactor 检测并遮蔽敏感内容
type Redactor struct {
	patterns []*regexp.Regexp
	marker   string
}

// NewRedactor compiles patterns (the defaults when empty). An empty marker
// falls back to DefaultRedactionMarker.
func NewRedactor(patterns []string, marker string) (*Redactor, error) {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return nil, err
	}
	if marker == "" {
		marker = DefaultRedactionMarker
	}
	return &Redactor{patterns: compiled, marker: marker}, nil
}

// Sensitive reports whether s matches any pattern.
func (r *Redactor) Sensitive(s string) bool {
	for _, re := range r.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Redact replaces every match in s with the marker.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllLiteralString(s, r.marker)
	}
	return s
}

// RedactValue 递归遮蔽字符串叶子节点，返回新值，不修改入参
func (r *Redactor) RedactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.Redact(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = r.RedactValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = r.RedactValue(inner)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, inner := range val {
			out[i] = r.Redact(inner)
		}
		return out
	default:
		return v
	}
}
