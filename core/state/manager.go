package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"ratebook/storage"
)

var (
	// ErrNoJournal is returned when Commit or Rollback is called without a
	// matching Begin.
	ErrNoJournal = errors.New("state: no open journal")
	// ErrJournalAborted is returned by Commit when a nested scope already
	// rolled the journal back.
	ErrJournalAborted = errors.New("state: journal aborted by nested scope")
)

// Manager reads and writes RLP encoded values under keccak hashed keys. Writes
// performed between Begin and Commit are journaled so a failed call can be
// reverted in full.
type Manager struct {
	db storage.Database

	mu      sync.Mutex
	depth   int
	aborted bool
	journal map[string]journalEntry
	order   []string
}

type journalEntry struct {
	existed bool
	value   []byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut encodes value with RLP and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := kvKey(key)
	if err := m.record(hashed); err != nil {
		return err
	}
	return m.db.Put(hashed, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
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

// KVDelete removes the value stored under key. Missing keys are ignored.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	if err := m.record(hashed); err != nil {
		return err
	}
	return m.db.Delete(hashed)
}

// Begin opens a journal scope. Scopes nest; only the outermost Commit drops
// the journal.
func (m *Manager) Begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		m.journal = make(map[string]journalEntry)
		m.order = m.order[:0]
		m.aborted = false
	}
	m.depth++
}

// Commit closes the current journal scope.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		return ErrNoJournal
	}
	m.depth--
	if m.aborted {
		if m.depth == 0 {
			m.aborted = false
		}
		return ErrJournalAborted
	}
	if m.depth == 0 {
		m.journal = nil
		m.order = m.order[:0]
	}
	return nil
}

// Rollback restores every key written since the outermost Begin. Enclosing
// scopes observe the abort and their own Rollback becomes a no-op.
func (m *Manager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		return ErrNoJournal
	}
	m.depth--
	var firstErr error
	for i := len(m.order) - 1; i >= 0; i-- {
		key := m.order[i]
		entry := m.journal[key]
		var err error
		if entry.existed {
			err = m.db.Put([]byte(key), entry.value)
		} else {
			err = m.db.Delete([]byte(key))
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.journal = make(map[string]journalEntry)
	m.order = m.order[:0]
	m.aborted = m.depth > 0
	return firstErr
}

// InJournal reports whether a journal scope is open.
func (m *Manager) InJournal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0
}

func (m *Manager) record(hashed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		return nil
	}
	key := string(hashed)
	if _, seen := m.journal[key]; seen {
		return nil
	}
	prior, err := m.db.Get(hashed)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		m.journal[key] = journalEntry{}
	case err != nil:
		return err
	default:
		m.journal[key] = journalEntry{existed: true, value: prior}
	}
	m.order = append(m.order, key)
	return nil
}
