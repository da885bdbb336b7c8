package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the policy lives unless configured otherwise.
const DefaultPath = ".github/repo-size-guardian.yml"

// LoadFile reads the policy at path and builds a Model over defaults. A
// missing file yields Empty(defaults). Files ending in .toml are TOML;
// anything else is YAML. Unknown keys are rejected.
func LoadFile(path string, defaults Thresholds) (*Model, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := checkSize("max_text_size_kb", defaults.MaxTextSizeKB); err != nil {
			return nil, err
		}
		if err := checkSize("max_binary_size_kb", defaults.MaxBinarySizeKB); err != nil {
			return nil, err
		}
		return Empty(defaults), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	doc, err := Decode(data, formatFor(path))
	if err != nil {
		return nil, &ConfigError{File: path, Err: err}
	}
	m, err := New(doc, defaults)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.File = path
		}
		return nil, err
	}
	return m, nil
}

// Format is a policy document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Decode parses a policy document strictly.
func Decode(data []byte, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return Document{}, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return Document{}, fmt.Errorf("decode toml: unknown keys %s", strings.Join(keys, ", "))
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return Document{}, fmt.Errorf("decode yaml: %w", err)
		}
	}
	return doc, nil
}

// Encode writes doc in the given format.
func Encode(w io.Writer, doc Document, format Format) error {
	if format == FormatTOML {
		return toml.NewEncoder(w).Encode(doc)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
