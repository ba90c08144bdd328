// Package kvstore adapts a flat byte-oriented storage.Database into the
// RLP-encoded KVGet/KVPut/KVAppend/KVGetList/KVDelete surface shared by every
// native module in this repository. It is the same interface shape the
// consensus-side state manager exposes to native modules, minus the trie: the
// authorization and accounting core has no block-execution state root to
// maintain, so values are addressed directly rather than through a merkle
// trie.
package kvstore

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"subledger/storage"
)

// Store persists RLP-encoded values in a flat key-value namespace backed by
// storage.Database (an in-memory map for tests, LevelDB in production).
type Store struct {
	db storage.Database
}

// New wraps the provided database with the KV helper surface.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (s *Store) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kvstore: database not configured")
	}
	if len(key) == 0 {
		return fmt.Errorf("kvstore: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// KVDelete removes the value stored under the supplied key.
func (s *Store) KVDelete(key []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kvstore: database not configured")
	}
	if len(key) == 0 {
		return fmt.Errorf("kvstore: key must not be empty")
	}
	return s.db.Put(key, nil)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean indicates whether the key existed.
func (s *Store) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("kvstore: database not configured")
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kvstore: key must not be empty")
	}
	data, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends the provided value to the RLP-encoded list stored under the
// supplied key. Duplicate values are ignored to keep the index deterministic.
func (s *Store) KVAppend(key []byte, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kvstore: database not configured")
	}
	if len(key) == 0 {
		return fmt.Errorf("kvstore: key must not be empty")
	}
	data, err := s.db.Get(key)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	found := false
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			found = true
			break
		}
	}
	if !found {
		list = append(list, append([]byte(nil), value...))
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is reset to an empty slice.
func (s *Store) KVGetList(key []byte, out interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kvstore: database not configured")
	}
	if len(key) == 0 {
		return fmt.Errorf("kvstore: key must not be empty")
	}
	data, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kvstore: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kvstore: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// KVDeleteList removes the list index itself, distinct from KVDelete so
// callers that track both a record and an enumeration index (as the spend
// authorizer does for registered EOAs) can drop the index in one call.
func (s *Store) KVDeleteList(key []byte) error {
	return s.KVDelete(key)
}
