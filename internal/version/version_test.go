package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	b := Get()
	require.NotEmpty(t, b.Version)
	require.NotEmpty(t, b.Commit)
	require.NotEmpty(t, b.Date)
	require.Equal(t, b.Version, GetVersion())
}

func TestGet_LdflagsCommitWins(t *testing.T) {
	prev := commit
	commit = "abc123"
	t.Cleanup(func() { commit = prev })

	require.Equal(t, "abc123", Get().Commit)
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		require.True(t, strings.Contains(s, part), "missing %q in %q", part, s)
	}
}
