package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	root := filepath.Join("data", "termstack")
	l := New(root + string(filepath.Separator))

	assert.Equal(t, filepath.Join(root, "stacks.json"), l.State())
	assert.Equal(t, filepath.Join(root, "history.jsonl"), l.History())
	assert.Equal(t, filepath.Join(root, "settings.json"), l.Settings())
	assert.Equal(t, filepath.Join(root, "exports"), l.Exports())
}

func TestExpand(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/backup/stacks.yaml", filepath.Join(home, "backup", "stacks.yaml")},
		{"/tmp/../tmp/x.json", filepath.Clean("/tmp/x.json")},
		{"~user/x", "~user/x"},
		{"relative/./x.toml", filepath.Join("relative", "x.toml")},
	}
	for _, tt := range tests {
		got, err := Expand(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestResolveExport(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	got, err := l.ResolveExport("stacks.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "exports", "stacks.yaml"), got)

	abs := filepath.Join(root, "elsewhere", "stacks.json")
	got, err = l.ResolveExport(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, got)

	_, err = l.ResolveExport(filepath.Join("..", "..", "etc", "passwd"))
	assert.Error(t, err)
}

func TestIsWithin(t *testing.T) {
	root := filepath.Join("a", "b")
	assert.True(t, IsWithin(root, root))
	assert.True(t, IsWithin(root, filepath.Join(root, "c")))
	assert.False(t, IsWithin(root, filepath.Join("a", "bc")))
	assert.False(t, IsWithin(root, "a"))
	assert.False(t, IsWithin(root, filepath.Join(root, "..", "x")))
}
