package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Reader is the read half of the store contract.
type Reader interface {
	// Get returns the raw value for key. found is false when the key is absent.
	Get(key string) (value []byte, found bool, err error)
	// Keys returns every key starting with prefix in lexicographic order.
	Keys(prefix string) ([]string, error)
}

// Writer is the write half of the store contract.
type Writer interface {
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key and reports whether it existed.
	Delete(key string) (bool, error)
}

// Tx is the view handed to Update callbacks. All calls made through it
// commit or roll back together.
type Tx interface {
	Reader
	Writer
	// GetEntry returns the value with its version metadata.
	GetEntry(key string) (*Entry, error)
	// CompareAndSet writes value only if the stored version equals
	// expected. expected 0 means the key must not exist yet.
	CompareAndSet(key string, value []byte, expected int64) (int64, error)
	// NextSeq returns the next value of a named monotonic counter.
	NextSeq(name string) (int64, error)
}

// Store is the full durable store surface consumed by the core.
type Store interface {
	Tx
	// Update runs fn in a single transaction. fn must only use the Tx it
	// is given.
	Update(fn func(tx Tx) error) error
}

// Entry is a stored value plus its write metadata.
type Entry struct {
	Key       string
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// kv implements Tx on top of either a connection or a transaction.
type kv struct {
	q   querier
	now func() time.Time
}

func (k kv) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := k.q.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("get", key, err)
	}
	return value, true, nil
}

func (k kv) GetEntry(key string) (*Entry, error) {
	var (
		e         = Entry{Key: key}
		updatedAt string
	)
	err := k.q.QueryRow("SELECT value, version, updated_at FROM kv WHERE key = ?", key).
		Scan(&e.Value, &e.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", key, err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, &DeserializationError{Key: key, Err: fmt.Errorf("updated_at: %w", err)}
	}
	return &e, nil
}

func (k kv) Keys(prefix string) ([]string, error) {
	rows, err := k.q.Query(
		"SELECT key FROM kv WHERE substr(key, 1, length(?1)) = ?1 ORDER BY key", prefix)
	if err != nil {
		return nil, storageErr("keys", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, storageErr("keys", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("keys", prefix, err)
	}
	return keys, nil
}

func (k kv) Set(key string, value []byte) error {
	if key == "" {
		return storageErr("set", key, errors.New("empty key"))
	}
	_, err := k.q.Exec(`
		INSERT INTO kv (key, value, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv.version + 1,
			updated_at = excluded.updated_at
	`, key, value, formatTime(k.now()))
	return storageErr("set", key, err)
}

func (k kv) Delete(key string) (bool, error) {
	res, err := k.q.Exec("DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return false, storageErr("delete", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete", key, err)
	}
	return n > 0, nil
}

func (k kv) CompareAndSet(key string, value []byte, expected int64) (int64, error) {
	if expected == 0 {
		res, err := k.q.Exec(
			"INSERT OR IGNORE INTO kv (key, value, version, updated_at) VALUES (?, ?, 1, ?)",
			key, value, formatTime(k.now()))
		if err != nil {
			return 0, storageErr("cas", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("%s: key exists: %w", key, ErrVersionConflict)
		}
		return 1, nil
	}

	res, err := k.q.Exec(
		"UPDATE kv SET value = ?, version = version + 1, updated_at = ? WHERE key = ? AND version = ?",
		value, formatTime(k.now()), key, expected)
	if err != nil {
		return 0, storageErr("cas", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%s: expected version %d: %w", key, expected, ErrVersionConflict)
	}
	return expected + 1, nil
}

func (k kv) NextSeq(name string) (int64, error) {
	_, err := k.q.Exec(`
		INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = sequences.value + 1
	`, name)
	if err != nil {
		return 0, storageErr("seq", name, err)
	}
	var v int64
	if err := k.q.QueryRow("SELECT value FROM sequences WHERE name = ?", name).Scan(&v); err != nil {
		return 0, storageErr("seq", name, err)
	}
	return v, nil
}

func (db *DB) kv() kv {
	return kv{q: db.conn, now: db.now}
}

// Get returns the raw value for key.
func (db *DB) Get(key string) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.kv().Get(key)
}

// GetEntry returns the value for key with its version, or nil if absent.
func (db *DB) GetEntry(key string) (*Entry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.kv().GetEntry(key)
}

// Keys lists keys under prefix in lexicographic order.
func (db *DB) Keys(prefix string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.kv().Keys(prefix)
}

// Set stores value under key. Concurrent writers to the same key are
// last-write-wins; the version counter lets a reader detect that it lost.
func (db *DB) Set(key string, value []byte) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.kv().Set(key, value)
}

// Delete removes key and reports whether it existed.
func (db *DB) Delete(key string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.kv().Delete(key)
}

// CompareAndSet writes value only if the stored version still equals expected.
func (db *DB) CompareAndSet(key string, value []byte, expected int64) (int64, error) {
	var version int64
	err := db.Update(func(tx Tx) error {
		var err error
		version, err = tx.CompareAndSet(key, value, expected)
		return err
	})
	return version, err
}

// NextSeq returns the next value of a named counter.
func (db *DB) NextSeq(name string) (int64, error) {
	var v int64
	err := db.Update(func(tx Tx) error {
		var err error
		v, err = tx.NextSeq(name)
		return err
	})
	return v, err
}

// Update runs fn inside one transaction. If fn returns an error the
// transaction is rolled back and the error is returned unchanged.
func (db *DB) Update(fn func(tx Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	sqlTx, err := db.conn.Begin()
	if err != nil {
		return storageErr("begin", "", err)
	}

	if err := fn(kv{q: sqlTx, now: db.now}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", "", err)
	}
	return nil
}

// Quarantine moves an undecodable value out of the live namespace so
// later reads stop tripping over it.
func (db *DB) Quarantine(key string) error {
	return db.Update(func(tx Tx) error {
		value, found, err := tx.Get(key)
		if err != nil || !found {
			return err
		}
		if err := tx.Set(QuarantineKey(key), value); err != nil {
			return err
		}
		_, err = tx.Delete(key)
		return err
	})
}

var _ Store = (*DB)(nil)
