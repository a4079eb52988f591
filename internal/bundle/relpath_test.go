package bundle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeRelPathRejectsUnsafeInputs(t *testing.T) {
	cases := []string{
		"/abs",
		"a/../b",
		"../x",
		"",
		"a//b",
		"./a",
		`C:\windows`,
	}
	for _, c := range cases {
		_, err := SafeRelPath(c)
		require.Errorf(t, err, "expected %q to be rejected", c)
	}
}

func TestSafeRelPathAcceptsNestedPaths(t *testing.T) {
	out, err := SafeRelPath("files/screens/a.bin")
	require.NoError(t, err)
	require.Equal(t, "files/screens/a.bin", out)
}
