package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pelletier/go-toml/v2"
)

// Format is an export encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Compression wraps an encoded export
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Document is the top-level shape of yaml and toml exports
type Document struct {
	Stacks []*types.Stack `yaml:"stacks" toml:"stacks"`
}

// Detect derives format and compression from a file name such as
// "stacks.yaml.gz". Unknown extensions fall back to JSON.
func Detect(path string) (Format, Compression) {
	name := strings.ToLower(filepath.Base(path))

	compression := CompressionNone
	switch {
	case strings.HasSuffix(name, ".gz"):
		compression = CompressionGzip
		name = strings.TrimSuffix(name, ".gz")
	case strings.HasSuffix(name, ".zst"):
		compression = CompressionZstd
		name = strings.TrimSuffix(name, ".zst")
	}

	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return FormatYAML, compression
	case ".toml":
		return FormatTOML, compression
	default:
		return FormatJSON, compression
	}
}

// Encode renders stacks in the format and compression implied by path
func Encode(path string, stacks []*types.Stack) ([]byte, error) {
	if stacks == nil {
		stacks = []*types.Stack{}
	}
	format, compression := Detect(path)

	data, err := encode(format, stacks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s export: %w", format, err)
	}
	return compress(compression, data)
}

func encode(format Format, stacks []*types.Stack) ([]byte, error) {
	switch format {
	case FormatJSON:
		return sonic.ConfigStd.MarshalIndent(stacks, "", "  ")
	case FormatYAML:
		return yaml.Marshal(Document{Stacks: stacks})
	case FormatTOML:
		return toml.Marshal(Document{Stacks: stacks})
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func compress(compression Compression, data []byte) ([]byte, error) {
	var buf bytes.Buffer

	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip failed: %w", err)
		}
	case CompressionZstd:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("zstd failed: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, fmt.Errorf("zstd failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zstd failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
	return buf.Bytes(), nil
}

