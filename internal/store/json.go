package store

import (
	"encoding/json"
	"fmt"
)

// SetJSON encodes v and stores it under key.
func SetJSON(w Writer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return w.Set(key, data)
}

// GetJSON loads key into v. It returns found=false when the key is absent
// and a *DeserializationError when the stored bytes do not decode.
func GetJSON(r Reader, key string, v any) (bool, error) {
	data, found, err := r.Get(key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &DeserializationError{Key: key, Err: err}
	}
	return true, nil
}

// GetEntryJSON loads key into v and returns the record version, 0 when absent.
func GetEntryJSON(tx Tx, key string, v any) (int64, error) {
	e, err := tx.GetEntry(key)
	if err != nil || e == nil {
		return 0, err
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return 0, &DeserializationError{Key: key, Err: err}
	}
	return e.Version, nil
}

// CompareAndSetJSON encodes v and writes it if the stored version matches.
func CompareAndSetJSON(tx Tx, key string, v any, expected int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	return tx.CompareAndSet(key, data, expected)
}
