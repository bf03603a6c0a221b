// Package store provides the persistent key/value records shared by the
// bootloader and the application.
package store

import (
	"fmt"
	"sort"
)

// Keys used by the bootloader.
const (
	// KeyUpdateImage holds the path of a pending update image
	KeyUpdateImage = "UPDATE_IMAGE"

	// KeyImageSignature holds the SHA-256 digest of the pending image
	KeyImageSignature = "IMAGE_SIGNATURE"

	// KeyUpdateAttempts counts update cycles of the pending image
	KeyUpdateAttempts = "UPDATE_ATTEMPTS"

	// KeyBootloaderError holds the code of the last failed update
	KeyBootloaderError = "BOOTLOADER_ERROR"

	// KeyBootloaderVersion holds the version of the running bootloader
	KeyBootloaderVersion = "BOOTLOADER_VERSION"

	// KeyApplicationErased is set while the application region is erased
	// or partially programmed
	KeyApplicationErased = "APPLICATION_ERASED"
)

// Store is a persistent key/value record store. Read methods return false
// for missing keys.
type Store interface {
	ReadInt(key string) (int, bool, error)
	WriteInt(key string, value int) error
	ReadString(key string) (string, bool, error)
	WriteString(key string, value string) error
	ReadBytes(key string) ([]byte, bool, error)
	WriteBytes(key string, value []byte) error
	Delete(key string) error
}

// TypeError indicates a record read with the wrong type.
type TypeError struct {
	Key  string
	Want string
	Got  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("record %s is %s, not %s", e.Key, e.Got, e.Want)
}

func typeName(v interface{}) string {
	switch v.(type) {
	case int:
		return "int"
	case string:
		return "string"
	case []byte:
		return "bytes"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Memory is a Store kept in memory.
type Memory struct {
	records map[string]interface{}
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{records: map[string]interface{}{}}
}

func (m *Memory) lookup(key, want string) (interface{}, bool, error) {
	v, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	if got := typeName(v); got != want {
		return nil, false, &TypeError{Key: key, Want: want, Got: got}
	}
	return v, true, nil
}

// ReadInt implements Store.
func (m *Memory) ReadInt(key string) (int, bool, error) {
	v, ok, err := m.lookup(key, "int")
	if !ok {
		return 0, false, err
	}
	return v.(int), true, nil
}

// WriteInt implements Store.
func (m *Memory) WriteInt(key string, value int) error {
	m.records[key] = value
	return nil
}

// ReadString implements Store.
func (m *Memory) ReadString(key string) (string, bool, error) {
	v, ok, err := m.lookup(key, "string")
	if !ok {
		return "", false, err
	}
	return v.(string), true, nil
}

// WriteString implements Store.
func (m *Memory) WriteString(key string, value string) error {
	m.records[key] = value
	return nil
}

// ReadBytes implements Store.
func (m *Memory) ReadBytes(key string) ([]byte, bool, error) {
	v, ok, err := m.lookup(key, "bytes")
	if !ok {
		return nil, false, err
	}
	return append([]byte(nil), v.([]byte)...), true, nil
}

// WriteBytes implements Store.
func (m *Memory) WriteBytes(key string, value []byte) error {
	m.records[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements Store. Deleting a missing key is not an error.
func (m *Memory) Delete(key string) error {
	delete(m.records, key)
	return nil
}

// Has returns true if key exists.
func (m *Memory) Has(key string) bool {
	_, ok := m.records[key]
	return ok
}

// Keys returns all keys in sorted order.
func (m *Memory) Keys() []string {
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
