// internal/tunnel/validate/subdomain_test.go
package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidSubdomain(t *testing.T) {
	valid := []string{"a", "ab", "a1", "my-app", "myapp123", "a-b-c", strings.Repeat("a", 63)}
	for _, s := range valid {
		require.True(t, IsValidSubdomain(s), s)
	}

	invalid := []string{
		"", "-abc", "abc-", "-", "UPPER", "my_app", "my app",
		strings.Repeat("a", 64), "a.b", "a--",
	}
	for _, s := range invalid {
		require.False(t, IsValidSubdomain(s), s)
	}
}
