package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func sampleStacks() []*types.Stack {
	order := 2
	return []*types.Stack{
		{
			ID:   "stk-1",
			Name: "dev",
			EnvironmentSets: []types.EnvironmentSet{
				{Title: "shared", Pairs: map[string]string{"NODE_ENV": "development"}, Order: 0, Disabled: []string{}},
			},
			Terminals: []*types.Terminal{
				{
					ID:             "trm-1",
					Title:          "api",
					ExecutionOrder: &order,
					Command:        types.Command{Cmd: "npm run dev", Cwd: "~/src/api"},
					MetaSettings: &types.MetaSettings{
						Rerun:      true,
						Sequencing: []types.SequenceStep{{Index: 1, Message: "Continue?", Echo: "y"}},
					},
					Health: &types.Health{HealthCheck: "http://localhost:3000/health"},
				},
			},
		},
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	stacks, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stacks)
	assert.Empty(t, stacks)
}

func TestSaveThenLoad(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), sampleStacks()))

	stacks, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleStacks(), stacks)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")
	assert.Equal(t, StateFile, entries[0].Name())
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), sampleStacks()))
	require.NoError(t, s.Save(context.Background(), nil))

	stacks, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stacks)
}

func TestSaveSkipsUnchangedDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleStacks()))

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(s.Path(), old, old))

	require.NoError(t, s.Save(ctx, sampleStacks()))
	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "identical document must not be rewritten")

	require.NoError(t, os.Remove(s.Path()))
	require.NoError(t, s.Save(ctx, sampleStacks()))
	assert.FileExists(t, s.Path())

	changed := sampleStacks()
	changed[0].Name = "prod"
	require.NoError(t, os.Chtimes(s.Path(), old, old))
	require.NoError(t, s.Save(ctx, changed))
	info, err = os.Stat(s.Path())
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(old))
}

func TestLoadCorrupt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	_, err := s.Load(context.Background())
	assert.ErrorContains(t, err, "failed to decode state")
}

func TestLoadTooLarge(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), bytes.Repeat([]byte(" "), MaxStateSize+1), 0o600))

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrStateTooLarge)
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Save(ctx, nil), context.Canceled)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		path        string
		format      Format
		compression Compression
	}{
		{"out.json", FormatJSON, CompressionNone},
		{"out", FormatJSON, CompressionNone},
		{"OUT.YML", FormatYAML, CompressionNone},
		{"out.yaml.gz", FormatYAML, CompressionGzip},
		{"out.toml.zst", FormatTOML, CompressionZstd},
		{"out.json.gz", FormatJSON, CompressionGzip},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			format, compression := Detect(tt.path)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, tt.compression, compression)
		})
	}
}

func TestExportYAML(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "nested", "stacks.yaml")
	require.NoError(t, s.Export(context.Background(), path, sampleStacks()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, yaml.Unmarshal(data, &doc))
	require.Len(t, doc.Stacks, 1)
	assert.Equal(t, "dev", doc.Stacks[0].Name)
	assert.Equal(t, "y", doc.Stacks[0].Terminals[0].MetaSettings.Sequencing[0].Echo)
}

func TestExportTOMLGzip(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "stacks.toml.gz")
	require.NoError(t, s.Export(context.Background(), path, sampleStacks()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, toml.Unmarshal(data, &doc))
	require.Len(t, doc.Stacks, 1)
	assert.Equal(t, "npm run dev", doc.Stacks[0].Terminals[0].Command.Cmd)
	assert.Equal(t, 2, *doc.Stacks[0].Terminals[0].ExecutionOrder)
}

func TestExportJSONZstd(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "stacks.json.zst")
	require.NoError(t, s.Export(context.Background(), path, sampleStacks()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(data), "["))
	assert.Contains(t, string(data), `"healthCheck": "http://localhost:3000/health"`)
}

func TestBlob(t *testing.T) {
	b := NewBlob(filepath.Join(t.TempDir(), "sub", "settings.json"))

	data, err := b.Read()
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, b.Write([]byte(`{"a":1}`)))
	require.NoError(t, b.Write([]byte(`{"a":2}`)))

	data, err = b.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))
}
