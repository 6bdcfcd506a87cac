package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	require.Equal(t, "0.4.0-beta", Version())
	require.True(t, strings.HasPrefix(UserAgent(), "storefront-cli/0.4.0"))
}

func TestFullIncludesCommit(t *testing.T) {
	old := Commit
	t.Cleanup(func() { Commit = old })

	Commit = " abc123 "
	require.Equal(t, "0.4.0-beta commit=abc123", Full())
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "rc-1", sanitize("rc.-1!"))
	require.Equal(t, "", sanitize("..."))
}
