package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"accesspay/core/events"
	"accesspay/core/types"
	"accesspay/storage"
)

var (
	// ErrTxClosed is returned when a committed or aborted transaction is reused.
	ErrTxClosed = errors.New("state: transaction already closed")
)

// Manager owns the ledger database and hands out transactions. At most one
// transaction is open at a time, so every commit observes the fully applied
// result of the previous one.
type Manager struct {
	db      storage.Database
	mu      sync.Mutex
	emitMu  sync.Mutex
	emitter events.Emitter
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures where committed transaction events are delivered.
// Passing nil resets the emitter to a no-op implementation. An emitter may
// read the ledger but must not commit a transaction from Emit.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// Key hashes a prefixed composite key into the fixed-width storage keyspace.
func Key(prefix string, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

// Begin opens a transaction. It blocks while another transaction is open and
// must be paired with Commit or Abort. Begin is not reentrant.
func (m *Manager) Begin() *Tx {
	m.mu.Lock()
	return &Tx{m: m, overlay: make(map[string]entry)}
}

// Atomic runs fn inside a transaction and commits it when fn returns nil.
// Any error discards every write and event produced by fn. A panic in fn
// aborts the transaction before it propagates.
func (m *Manager) Atomic(fn func(tx *Tx) error) error {
	tx := m.Begin()
	defer tx.Abort()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// View runs fn against a transaction that is always discarded.
func (m *Manager) View(fn func(tx *Tx) error) error {
	tx := m.Begin()
	defer tx.Abort()
	return fn(tx)
}

type entry struct {
	value   []byte
	deleted bool
}

// Tx buffers reads and writes against the ledger until Commit.
type Tx struct {
	m       *Manager
	overlay map[string]entry
	events  []*types.Event
	closed  bool
}

// Get returns the value stored at key, consulting pending writes first.
// Missing keys report storage.ErrNotFound.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	if e, ok := tx.overlay[string(key)]; ok {
		if e.deleted {
			return nil, storage.ErrNotFound
		}
		return append([]byte(nil), e.value...), nil
	}
	return tx.m.db.Get(key)
}

// Has reports whether key holds a value.
func (tx *Tx) Has(key []byte) (bool, error) {
	if tx.closed {
		return false, ErrTxClosed
	}
	if e, ok := tx.overlay[string(key)]; ok {
		return !e.deleted, nil
	}
	return tx.m.db.Has(key)
}

// Put stages a write.
func (tx *Tx) Put(key, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.overlay[string(key)] = entry{value: append([]byte(nil), value...)}
	return nil
}

// Delete stages a removal.
func (tx *Tx) Delete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.overlay[string(key)] = entry{deleted: true}
	return nil
}

// GetRLP decodes the RLP value stored at key into v. The boolean reports
// whether the key existed.
func (tx *Tx) GetRLP(key []byte, v interface{}) (bool, error) {
	data, err := tx.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, v); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

// PutRLP stages the RLP encoding of v at key.
func (tx *Tx) PutRLP(key []byte, v interface{}) error {
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	return tx.Put(key, data)
}

// Emit queues an event that is delivered only if the transaction commits.
func (tx *Tx) Emit(evt *types.Event) {
	if evt == nil || tx.closed {
		return
	}
	tx.events = append(tx.events, evt)
}

// Events returns the events queued so far.
func (tx *Tx) Events() []*types.Event {
	out := make([]*types.Event, len(tx.events))
	copy(out, tx.events)
	return out
}

// Commit flushes every staged write in a single batch and then delivers the
// queued events. A failed flush leaves the database untouched. Events are
// delivered after the ledger lock is released, in commit order.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	m := tx.m

	keys := make([]string, 0, len(tx.overlay))
	for k := range tx.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, k := range keys {
		e := tx.overlay[k]
		if e.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), e.value)
	}
	if err := m.db.Write(batch); err != nil {
		tx.release()
		return fmt.Errorf("state: commit: %w", err)
	}

	pending := tx.events
	// emitMu is taken before the ledger lock is dropped so the next commit
	// cannot deliver its events ahead of these.
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	tx.release()
	for _, evt := range pending {
		m.emitter.Emit(events.Typed{Evt: evt})
	}
	return nil
}

// Abort discards the transaction. Calling Abort after Commit is a no-op.
func (tx *Tx) Abort() {
	if tx.closed {
		return
	}
	tx.release()
}

func (tx *Tx) release() {
	tx.closed = true
	tx.overlay = nil
	tx.events = nil
	tx.m.mu.Unlock()
}
