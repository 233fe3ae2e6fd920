package twin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines twin persistence operations.
type Repository interface {
	// Get returns one twin with its references and services.
	// Returns ErrTwinNotFound if the twin does not exist.
	Get(ctx context.Context, id string) (*Twin, error)

	// List returns every twin ordered by creation time.
	List(ctx context.Context) ([]*Twin, error)

	// Create inserts an empty twin.
	Create(ctx context.Context, t *Twin) error

	// Delete removes a twin. Referenced entities are not touched.
	Delete(ctx context.Context, id string) error

	// AttachEntity adds ref to the twin. Adding an existing ref is a no-op.
	AttachEntity(ctx context.Context, id string, ref Ref, at time.Time) error

	// DetachEntity removes ref. Removing an absent ref is a no-op.
	DetachEntity(ctx context.Context, id string, ref Ref, at time.Time) error

	// UpsertService attaches a service or replaces its configuration.
	UpsertService(ctx context.Context, id string, a Attachment, at time.Time) error

	// DeleteService detaches a service. Detaching an absent one is a no-op.
	DeleteService(ctx context.Context, id, name string, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed twin repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get retrieves a twin by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Twin, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM twins
		WHERE id = ?`, id)

	t, err := scanTwin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTwinNotFound, id)
		}
		return nil, fmt.Errorf("querying twin: %w", err)
	}
	if err := r.loadMembers(ctx, []*Twin{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// List retrieves all twins.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Twin, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM twins
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying twins: %w", err)
	}
	defer rows.Close()

	var twins []*Twin
	for rows.Next() {
		t, err := scanTwin(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning twin: %w", err)
		}
		twins = append(twins, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating twins: %w", err)
	}
	// rows must be closed before the member queries on a single connection.
	rows.Close()

	if err := r.loadMembers(ctx, twins); err != nil {
		return nil, err
	}
	return twins, nil
}

// Create inserts a new twin.
func (r *SQLiteRepository) Create(ctx context.Context, t *Twin) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO twins (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, nullableString(t.Description),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting twin: %w", err)
	}
	return nil
}

// Delete removes a twin; references and attachments cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM twins WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting twin: %w", err)
	}
	return requireRow(result, id)
}

// AttachEntity adds an entity reference at the end of the list.
func (r *SQLiteRepository) AttachEntity(ctx context.Context, id string, ref Ref, at time.Time) error {
	return r.withTouchedTwin(ctx, id, at, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO twin_entities (twin_id, entity_type, entity_id, position)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM twin_entities WHERE twin_id = ?))`,
			id, ref.Type, ref.ID, id,
		)
		if err != nil {
			return fmt.Errorf("attaching entity: %w", err)
		}
		return nil
	})
}

// DetachEntity removes an entity reference.
func (r *SQLiteRepository) DetachEntity(ctx context.Context, id string, ref Ref, at time.Time) error {
	return r.withTouchedTwin(ctx, id, at, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM twin_entities
			WHERE twin_id = ? AND entity_type = ? AND entity_id = ?`,
			id, ref.Type, ref.ID,
		)
		if err != nil {
			return fmt.Errorf("detaching entity: %w", err)
		}
		return nil
	})
}

// UpsertService attaches a service, replacing the config of an existing
// attachment in place.
func (r *SQLiteRepository) UpsertService(ctx context.Context, id string, a Attachment, at time.Time) error {
	configJSON, err := json.Marshal(orEmpty(a.Config))
	if err != nil {
		return fmt.Errorf("marshalling service config: %w", err)
	}

	return r.withTouchedTwin(ctx, id, at, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO twin_services (twin_id, name, config, position)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM twin_services WHERE twin_id = ?))
			ON CONFLICT (twin_id, name) DO UPDATE SET config = excluded.config`,
			id, a.Name, string(configJSON), id,
		)
		if err != nil {
			return fmt.Errorf("upserting service: %w", err)
		}
		return nil
	})
}

// DeleteService detaches a service.
func (r *SQLiteRepository) DeleteService(ctx context.Context, id, name string, at time.Time) error {
	return r.withTouchedTwin(ctx, id, at, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM twin_services WHERE twin_id = ? AND name = ?", id, name)
		if err != nil {
			return fmt.Errorf("detaching service: %w", err)
		}
		return nil
	})
}

// withTouchedTwin bumps updated_at and runs fn in one transaction.
// Returns ErrTwinNotFound if the twin does not exist.
func (r *SQLiteRepository) withTouchedTwin(ctx context.Context, id string, at time.Time, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, "UPDATE twins SET updated_at = ? WHERE id = ?", formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching twin: %w", err)
	}
	if err := requireRow(result, id); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// loadMembers fills Entities and Services for the given twins.
func (r *SQLiteRepository) loadMembers(ctx context.Context, twins []*Twin) error {
	if len(twins) == 0 {
		return nil
	}
	byID := make(map[string]*Twin, len(twins))
	for _, t := range twins {
		t.Entities = []Ref{}
		t.Services = []Attachment{}
		byID[t.ID] = t
	}

	refRows, err := r.db.QueryContext(ctx, `
		SELECT twin_id, entity_type, entity_id
		FROM twin_entities
		ORDER BY twin_id, position`)
	if err != nil {
		return fmt.Errorf("querying twin entities: %w", err)
	}
	for refRows.Next() {
		var twinID string
		var ref Ref
		if err := refRows.Scan(&twinID, &ref.Type, &ref.ID); err != nil {
			refRows.Close()
			return fmt.Errorf("scanning twin entity: %w", err)
		}
		if t, ok := byID[twinID]; ok {
			t.Entities = append(t.Entities, ref)
		}
	}
	if err := refRows.Err(); err != nil {
		refRows.Close()
		return fmt.Errorf("iterating twin entities: %w", err)
	}
	refRows.Close()

	svcRows, err := r.db.QueryContext(ctx, `
		SELECT twin_id, name, config
		FROM twin_services
		ORDER BY twin_id, position`)
	if err != nil {
		return fmt.Errorf("querying twin services: %w", err)
	}
	defer svcRows.Close()
	for svcRows.Next() {
		var twinID, configJSON string
		var a Attachment
		if err := svcRows.Scan(&twinID, &a.Name, &configJSON); err != nil {
			return fmt.Errorf("scanning twin service: %w", err)
		}
		if err := json.Unmarshal([]byte(configJSON), &a.Config); err != nil {
			return fmt.Errorf("decoding config of service %s: %w", a.Name, err)
		}
		if a.Config == nil {
			a.Config = map[string]any{}
		}
		if t, ok := byID[twinID]; ok {
			t.Services = append(t.Services, a)
		}
	}
	return svcRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTwin(row rowScanner) (*Twin, error) {
	var (
		t                    Twin
		description          sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.Name, &description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Description = description.String

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

// timeLayout is fixed width so that created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTwinNotFound, id)
	}
	return nil
}
