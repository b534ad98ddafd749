package pathsafe_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ioisolate/internal/pathsafe"
)

func TestValidate_Accepts(t *testing.T) {
	require.NoError(t, pathsafe.Validate("/tmp/data/file.txt"))
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"whitespace only": "   ",
		"leading space":   " /tmp/file.txt",
		"trailing space":  "/tmp/file.txt ",
		"traversal":       "/tmp/../etc/passwd.txt",
		"percent traversal": "/tmp/%2e%2e/etc/passwd.txt",
		"reserved name":   "/tmp/CON.txt",
		"bad extension":   "/tmp/file.exe",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			err := pathsafe.Validate(path)
			require.Error(t, err)
			require.ErrorIs(t, err, pathsafe.ErrInvalidPath)
		})
	}
}

func TestValidate_PathLengthBoundary(t *testing.T) {
	base := "/tmp/" + strings.Repeat("a", pathsafe.MaxPathLength-10) + ".txt"
	for len(base) < pathsafe.MaxPathLength {
		base = base[:len(base)-4] + strings.Repeat("a", 4) + ".txt"
	}
	exact := base[:pathsafe.MaxPathLength-4] + ".txt"
	require.Len(t, exact, pathsafe.MaxPathLength)
	require.NoError(t, pathsafe.Validate(exact))

	tooLong := exact[:len(exact)-4] + "a.txt"
	require.Greater(t, len(tooLong), pathsafe.MaxPathLength)
	require.Error(t, pathsafe.Validate(tooLong))
}

func TestValidateDir_SkipsExtensionCheck(t *testing.T) {
	require.NoError(t, pathsafe.ValidateDir("/tmp/some/directory"))
}
