package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
)

// SQLiteBackend stores each flow as a JSON document row plus queryable
// variable reference rows, rewritten in the same transaction as the
// document. Compare-and-swap runs on the version column.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ flowstore.Backend = (*SQLiteBackend)(nil)

// OpenSQLite opens (or creates) the database at path and initializes the
// schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLiteBackend", "OpenSQLite", "open database")
	}
	// Document writes serialize per flow in the store; a single connection
	// keeps SQLite's writer locking out of the picture.
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	backend := &SQLiteBackend{db: db, logger: logger.With("component", "storage.sqlite")}
	if err := backend.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// NewSQLiteBackend wraps an existing database handle, initializing the
// schema. The caller keeps ownership of the handle.
func NewSQLiteBackend(db *sql.DB, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := &SQLiteBackend{db: db, logger: logger.With("component", "storage.sqlite")}
	if err := backend.initSchema(); err != nil {
		return nil, err
	}
	return backend, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			status TEXT NOT NULL,
			document BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS flow_references (
			flow_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			sheet TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			access TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_flow_references_flow
			ON flow_references (flow_id);
		CREATE INDEX IF NOT EXISTS idx_flow_references_variable
			ON flow_references (sheet, name);`,
	)
	if err != nil {
		return errors.WrapFatal(err, "SQLiteBackend", "initSchema", "create schema")
	}
	return nil
}

// Close closes the underlying database
func (b *SQLiteBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Close", "close database")
	}
	return nil
}

func encodeFlow(flow *flowstore.Flow) ([]byte, error) {
	document, err := json.Marshal(flow)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLiteBackend", "encodeFlow", "marshal flow")
	}
	return document, nil
}

func decodeFlow(document []byte) (*flowstore.Flow, error) {
	var flow flowstore.Flow
	if err := json.Unmarshal(document, &flow); err != nil {
		return nil, errors.WrapFatal(err, "SQLiteBackend", "decodeFlow", "unmarshal flow")
	}
	return &flow, nil
}

// writeReferences rewrites the flow's reference rows inside the transaction
func writeReferences(ctx context.Context, tx *sql.Tx, flow *flowstore.Flow) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM flow_references WHERE flow_id = ?`, flow.ID); err != nil {
		return fmt.Errorf("clear reference rows: %w", err)
	}
	for nodeID, refs := range flow.References {
		for _, ref := range refs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO flow_references (flow_id, node_id, sheet, name, kind, access)
				VALUES (?, ?, ?, ?, ?, ?)`,
				flow.ID, nodeID, ref.Sheet, ref.Name, string(ref.Kind), string(ref.Access),
			); err != nil {
				return fmt.Errorf("insert reference row: %w", err)
			}
		}
	}
	return nil
}

// Create implements flowstore.Backend
func (b *SQLiteBackend) Create(ctx context.Context, flow *flowstore.Flow) error {
	document, err := encodeFlow(flow)
	if err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Create", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flows (id, version, status, document)
		VALUES (?, ?, ?, ?)`,
		flow.ID, flow.Version, string(flow.Status), document,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.WrapInvalid(errors.ErrRecordExists,
				"SQLiteBackend", "Create", "flow existence check")
		}
		return errors.WrapTransient(err, "SQLiteBackend", "Create", "insert flow")
	}
	if err := writeReferences(ctx, tx, flow); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Create", "write references")
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Create", "commit")
	}
	return nil
}

// Get implements flowstore.Backend
func (b *SQLiteBackend) Get(ctx context.Context, id string) (*flowstore.Flow, error) {
	var document []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT document FROM flows WHERE id = ?`, id).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, errors.WrapNotFound(errors.ErrFlowNotFound,
			"SQLiteBackend", "Get", "flow lookup")
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "SQLiteBackend", "Get", "query flow")
	}
	return decodeFlow(document)
}

// Put implements flowstore.Backend; the version check and the document and
// reference writes share one transaction
func (b *SQLiteBackend) Put(ctx context.Context, flow *flowstore.Flow, expectedVersion int64) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Put", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var storedVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM flows WHERE id = ?`, flow.ID).Scan(&storedVersion)
	if err == sql.ErrNoRows {
		return errors.WrapNotFound(errors.ErrFlowNotFound,
			"SQLiteBackend", "Put", "flow lookup")
	}
	if err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Put", "query version")
	}
	if storedVersion != expectedVersion {
		return errors.WrapTransient(errors.ErrVersionConflict,
			"SQLiteBackend", "Put", "version check")
	}

	newVersion := expectedVersion + 1
	flow.Version = newVersion
	document, err := encodeFlow(flow)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE flows SET version = ?, status = ?, document = ? WHERE id = ?`,
		newVersion, string(flow.Status), document, flow.ID,
	); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Put", "update flow")
	}
	if err := writeReferences(ctx, tx, flow); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Put", "write references")
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Put", "commit")
	}
	return nil
}

// Delete implements flowstore.Backend; missing flows are a no-op
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Delete", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Delete", "delete flow")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM flow_references WHERE flow_id = ?`, id); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Delete", "delete references")
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "SQLiteBackend", "Delete", "commit")
	}
	return nil
}

// List implements flowstore.Backend
func (b *SQLiteBackend) List(ctx context.Context) ([]*flowstore.Flow, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT document FROM flows`)
	if err != nil {
		return nil, errors.WrapTransient(err, "SQLiteBackend", "List", "query flows")
	}
	defer func() { _ = rows.Close() }()

	var flows []*flowstore.Flow
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, errors.WrapTransient(err, "SQLiteBackend", "List", "scan row")
		}
		flow, err := decodeFlow(document)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "SQLiteBackend", "List", "iterate rows")
	}
	return flows, nil
}

// VariableSites returns the node ids of every flow referencing the variable,
// straight from the reference rows; handy for cross-flow usage queries
// without loading documents
func (b *SQLiteBackend) VariableSites(ctx context.Context, sheet, name string) (map[string][]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT flow_id, node_id FROM flow_references
		WHERE sheet = ? AND name = ?
		ORDER BY flow_id, node_id`, sheet, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "SQLiteBackend", "VariableSites", "query references")
	}
	defer func() { _ = rows.Close() }()

	sites := make(map[string][]string)
	for rows.Next() {
		var flowID, nodeID string
		if err := rows.Scan(&flowID, &nodeID); err != nil {
			return nil, errors.WrapTransient(err, "SQLiteBackend", "VariableSites", "scan row")
		}
		sites[flowID] = append(sites[flowID], nodeID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "SQLiteBackend", "VariableSites", "iterate rows")
	}
	return sites, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
