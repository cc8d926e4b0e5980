package nodes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/mqtt-gateway/internal/device"
	"github.com/nerrad567/mqtt-gateway/internal/node"
)

// Repository defines the interface for node persistence operations.
type Repository interface {
	// Save inserts or updates a node record. Drivers are ignored.
	Save(ctx context.Context, rec Record) error

	// Get retrieves a node with its drivers.
	// Returns ErrNodeNotFound if the node does not exist.
	Get(ctx context.Context, address string) (*Record, error)

	// List retrieves all nodes with their drivers, ordered by address.
	List(ctx context.Context) ([]Record, error)

	// Delete removes a node and its drivers.
	// Returns ErrNodeNotFound if the node does not exist.
	Delete(ctx context.Context, address string) error

	// SaveDriver stores the latest value of one driver.
	SaveDriver(ctx context.Context, address string, d node.Driver) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts or updates a node record.
func (r *SQLiteRepository) Save(ctx context.Context, rec Record) error {
	desc, err := json.Marshal(rec.Descriptor)
	if err != nil {
		return fmt.Errorf("marshalling descriptor: %w", err)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	query := `
		INSERT INTO nodes (address, name, type, descriptor, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			descriptor = excluded.descriptor,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		rec.Address,
		rec.Name,
		string(rec.Type),
		string(desc),
		rec.CreatedAt.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving node %s: %w", rec.Address, err)
	}
	return nil
}

// Get retrieves a node with its drivers.
func (r *SQLiteRepository) Get(ctx context.Context, address string) (*Record, error) {
	query := `
		SELECT address, name, type, descriptor, created_at, updated_at
		FROM nodes
		WHERE address = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("querying node %s: %w", address, err)
	}

	drivers, err := r.drivers(ctx, "WHERE address = ?", address)
	if err != nil {
		return nil, err
	}
	rec.Drivers = drivers[address]
	return rec, nil
}

// List retrieves all nodes with their drivers.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `
		SELECT address, name, type, descriptor, created_at, updated_at
		FROM nodes
		ORDER BY address`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}

	drivers, err := r.drivers(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Drivers = drivers[records[i].Address]
	}
	return records, nil
}

// Delete removes a node. Its drivers go with it through the foreign key.
func (r *SQLiteRepository) Delete(ctx context.Context, address string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_drivers WHERE address = ?`, address); err != nil {
		return fmt.Errorf("deleting drivers of %s: %w", address, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("deleting node %s: %w", address, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNodeNotFound
	}
	return tx.Commit()
}

// SaveDriver stores the latest value of one driver.
func (r *SQLiteRepository) SaveDriver(ctx context.Context, address string, d node.Driver) error {
	query := `
		INSERT INTO node_drivers (address, driver, value, uom, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address, driver) DO UPDATE SET
			value = excluded.value,
			uom = excluded.uom,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		address, d.Name, d.Value, d.UOM, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving driver %s.%s: %w", address, d.Name, err)
	}
	return nil
}

// drivers loads driver rows grouped by address.
func (r *SQLiteRepository) drivers(ctx context.Context, where string, args ...any) (map[string][]node.Driver, error) {
	query := `SELECT address, driver, value, uom FROM node_drivers ` + where + ` ORDER BY address, driver`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying drivers: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]node.Driver)
	for rows.Next() {
		var address string
		var d node.Driver
		if err := rows.Scan(&address, &d.Name, &d.Value, &d.UOM); err != nil {
			return nil, fmt.Errorf("scanning driver: %w", err)
		}
		out[address] = append(out[address], d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating drivers: %w", err)
	}
	return out, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var typ, desc, createdAt, updatedAt string

	if err := row.Scan(&rec.Address, &rec.Name, &typ, &desc, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Type = device.Type(typ)

	if err := json.Unmarshal([]byte(desc), &rec.Descriptor); err != nil {
		return nil, fmt.Errorf("unmarshalling descriptor of %s: %w", rec.Address, err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rec, nil
}
