package runid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildIDSuffixInjective(t *testing.T) {
	seen := make(map[string]bool)
	for _, osName := range []string{"linux", "mac", "windows"} {
		for _, nc := range []string{"broadband", "umts", "gsm"} {
			suffix := BuildIDSuffix(osName, nc)
			require.Len(t, suffix, 2)
			require.False(t, seen[suffix], "suffix %q for %s/%s collides with a previous pair", suffix, osName, nc)
			seen[suffix] = true
		}
	}
	require.Len(t, seen, 9)
}

func TestBuildIDSuffixUnknownIsEmpty(t *testing.T) {
	require.Empty(t, BuildIDSuffix("plan9", "umts"))
	require.Empty(t, BuildIDSuffix("mac", "fiber"))
}

func TestComposeBuildIDLength(t *testing.T) {
	id := ComposeBuildID("20200101120000", "mac", "umts")
	require.Equal(t, "20200101120000m1", id)
	require.LessOrEqual(t, len(id), 16)
}

func TestComposeBuildIDTruncatesLongOriginal(t *testing.T) {
	id := ComposeBuildID("2020010112000099999", "linux", "gsm")
	require.Equal(t, "20200101120000l2", id)
}

func TestTruncateSHA(t *testing.T) {
	require.Equal(t, "abcdef012345", TruncateSHA("abcdef0123456789"))
	require.Equal(t, "short", TruncateSHA("short"))
}

func TestNewSRID(t *testing.T) {
	require.Equal(t, "user-abcdef012345", NewSRID("user", "abcdef0123456789"))
}
