package state

import (
	"errors"
	"fmt"
)

// SchemaVersion identifies the on-disk layout of escrows, splits, credentials
// and balances. Increment it whenever a stored record changes shape.
const SchemaVersion uint32 = 1

var (
	schemaVersionKey = Key("ledger/version")
	// ErrSchemaVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrSchemaVersionMismatch = errors.New("state: schema version mismatch")
)

// SchemaVersion returns the stored schema version and whether one was found.
func (m *Manager) SchemaVersion() (uint32, bool, error) {
	var (
		version uint32
		ok      bool
	)
	err := m.View(func(tx *Tx) error {
		var err error
		ok, err = tx.GetRLP(schemaVersionKey, &version)
		return err
	})
	return version, ok, err
}

// EnsureSchemaVersion stamps an empty ledger with SchemaVersion and rejects a
// ledger written by a different layout. allowMigrate tolerates the mismatch
// so operators can run a manual migration.
func (m *Manager) EnsureSchemaVersion(allowMigrate bool) error {
	return m.Atomic(func(tx *Tx) error {
		var stored uint32
		ok, err := tx.GetRLP(schemaVersionKey, &stored)
		if err != nil {
			return err
		}
		if !ok {
			return tx.PutRLP(schemaVersionKey, SchemaVersion)
		}
		if stored == SchemaVersion || allowMigrate {
			return nil
		}
		return fmt.Errorf("%w: on-disk=%d expected=%d", ErrSchemaVersionMismatch, stored, SchemaVersion)
	})
}
