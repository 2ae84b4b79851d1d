package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRedactor_DefaultPatterns(t *testing.T) {
	r, err := NewRedactor(nil, "")
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     string
		want      string
		sensitive bool
	}{
		{"email", "contact a@b.com", "contact [REDACTED]", true},
		{"phone", "call +1 555-123-4567 now", "call [REDACTED] now", true},
		{"card", "card 4111 1111 1111 1111", "card [REDACTED]", true},
		{"ssn", "ssn 123-45-6789", "ssn [REDACTED]", true},
		{"clean", "the weather is nice", "the weather is nice", false},
		{"short number", "room 42", "room 42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sensitive, r.Sensitive(tt.input))
			assert.Equal(t, tt.want, r.Redact(tt.input))
		})
	}
}

func TestRedactor_CustomPatternsAndMarker(t *testing.T) {
	r, err := NewRedactor([]string{`secret-\d+`}, "***")
	require.NoError(t, err)

	assert.Equal(t, "token *** and a@b.com", r.Redact("token secret-42 and a@b.com"))

	_, err = NewRedactor([]string{"[unclosed"}, "")
	assert.Error(t, err)
}

func TestRedactor_RedactValue(t *testing.T) {
	r, err := NewRedactor(nil, "")
	require.NoError(t, err)

	in := map[string]any{
		"email": "a@b.com",
		"n":     3.0,
		"list":  []any{"x@y.org", true},
		"names": []string{"ok", "z@w.net"},
	}
	out := r.RedactValue(in)
	assert.Equal(t, map[string]any{
		"email": "[REDACTED]",
		"n":     3.0,
		"list":  []any{"[REDACTED]", true},
		"names": []string{"ok", "[REDACTED]"},
	}, out)
	assert.Equal(t, "a@b.com", in["email"], "input is not modified")
}

// 属性: 遮蔽后的文本不再包含任何邮箱
func TestProperty_Redactor_RemovesEmails(t *testing.T) {
	r, err := NewRedactor(nil, "")
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		user := rapid.StringMatching(`[a-z]{1,10}`).Draw(rt, "user")
		domain := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "domain")
		prefix := rapid.StringMatching(`[a-zA-Z ]{0,20}`).Draw(rt, "prefix")
		email := user + "@" + domain + ".com"

		out := r.Redact(prefix + " " + email)
		assert.NotContains(rt, out, email)
		assert.False(rt, r.Sensitive(out))
	})
}
