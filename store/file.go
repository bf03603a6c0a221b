package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// entry is the YAML form of a record.
type entry struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// File is a Store persisted as a YAML document. Every write rewrites the
// file.
type File struct {
	*Memory
	path string
}

// OpenFile loads the store at path. A missing file yields an empty store.
func OpenFile(path string) (*File, error) {
	f := &File{
		Memory: NewMemory(),
		path:   path,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	var entries map[string]entry
	err = yaml.Unmarshal(data, &entries)
	if err != nil {
		return nil, fmt.Errorf("failed to decode store: %w", err)
	}

	for key, e := range entries {
		v, err := e.decode()
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", key, err)
		}
		f.records[key] = v
	}

	return f, nil
}

func (e entry) decode() (interface{}, error) {
	switch e.Type {
	case "int":
		return strconv.Atoi(e.Value)
	case "string":
		return e.Value, nil
	case "bytes":
		return hex.DecodeString(e.Value)
	default:
		return nil, fmt.Errorf("unknown record type %q", e.Type)
	}
}

func encode(v interface{}) entry {
	switch v := v.(type) {
	case int:
		return entry{Type: "int", Value: strconv.Itoa(v)}
	case []byte:
		return entry{Type: "bytes", Value: hex.EncodeToString(v)}
	default:
		return entry{Type: "string", Value: fmt.Sprint(v)}
	}
}

// Path returns the location of the store.
func (f *File) Path() string {
	return f.path
}

// WriteInt implements Store.
func (f *File) WriteInt(key string, value int) error {
	_ = f.Memory.WriteInt(key, value)
	return f.save()
}

// WriteString implements Store.
func (f *File) WriteString(key string, value string) error {
	_ = f.Memory.WriteString(key, value)
	return f.save()
}

// WriteBytes implements Store.
func (f *File) WriteBytes(key string, value []byte) error {
	_ = f.Memory.WriteBytes(key, value)
	return f.save()
}

// Delete implements Store.
func (f *File) Delete(key string) error {
	if !f.Has(key) {
		return nil
	}
	_ = f.Memory.Delete(key)
	return f.save()
}

func (f *File) save() error {
	entries := make(map[string]entry, len(f.records))
	for key, v := range f.records {
		entries[key] = encode(v)
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(f.path), "."+filepath.Base(f.path)+".tmp")
	err = os.WriteFile(tmp, data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}

	err = os.Rename(tmp, f.path)
	if err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}

	return nil
}
