package entity

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SQLiteStore implements Store on the entities table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get returns one entity.
func (s *SQLiteStore) Get(ctx context.Context, entityType, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, profile, data, metadata
		FROM entities
		WHERE id = ? AND type = ?`, id, entityType)

	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, entityType, id)
		}
		return nil, fmt.Errorf("querying entity: %w", err)
	}
	return e, nil
}

// Save inserts e.
func (s *SQLiteStore) Save(ctx context.Context, entityType string, e *Entity) (string, error) {
	if e.ID == "" {
		return "", fmt.Errorf("entity: cannot save %s without id", entityType)
	}
	profile, data, metadata, err := marshalSections(e)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, type, profile, data, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, entityType, profile, data, metadata,
		stampOrNow(e.CreatedAt()), stampOrNow(e.UpdatedAt()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", fmt.Errorf("%w: %s %s", ErrExists, entityType, e.ID)
		}
		return "", fmt.Errorf("inserting entity: %w", err)
	}
	return e.ID, nil
}

// Update replaces the stored document.
func (s *SQLiteStore) Update(ctx context.Context, entityType, id string, e *Entity) error {
	profile, data, metadata, err := marshalSections(e)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET profile = ?, data = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND type = ?`,
		profile, data, metadata, stampOrNow(e.UpdatedAt()), id, entityType,
	)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return requireRow(result, entityType, id)
}

// Query returns matching entities ordered by creation time.
func (s *SQLiteStore) Query(ctx context.Context, entityType string, filter Filter) ([]*Entity, error) {
	var (
		clauses = []string{"type = ?"}
		args    = []any{entityType}
	)

	keys := make([]string, 0, len(filter.Profile))
	for k := range filter.Profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		clauses = append(clauses, "json_extract(profile, ?) = ?")
		args = append(args, "$."+k, sqlValue(filter.Profile[k]))
	}

	if len(filter.IDs) > 0 {
		clauses = append(clauses, "id IN (?"+strings.Repeat(", ?", len(filter.IDs)-1)+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	query := `
		SELECT id, type, profile, data, metadata
		FROM entities
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return out, nil
}

// Delete removes one entity.
func (s *SQLiteStore) Delete(ctx context.Context, entityType, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ? AND type = ?", id, entityType)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	return requireRow(result, entityType, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		e                       Entity
		profile, data, metadata string
	)
	if err := row.Scan(&e.ID, &e.Type, &profile, &data, &metadata); err != nil {
		return nil, err
	}

	var err error
	if e.Profile, err = decodeSection(profile); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	if e.Data, err = decodeSection(data); err != nil {
		return nil, fmt.Errorf("decoding data: %w", err)
	}
	if e.Metadata, err = decodeSection(metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &e, nil
}

func marshalSections(e *Entity) (profile, data, metadata string, err error) {
	p, err := json.Marshal(orEmpty(e.Profile))
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling profile: %w", err)
	}
	d, err := json.Marshal(orEmpty(e.Data))
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling data: %w", err)
	}
	m, err := json.Marshal(orEmpty(e.Metadata))
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling metadata: %w", err)
	}
	return string(p), string(d), string(m), nil
}

// decodeSection reads a JSON object keeping whole numbers as int64.
func decodeSection(src string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(src)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	return normaliseNumbers(raw).(map[string]any), nil
}

func normaliseNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normaliseNumbers(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normaliseNumbers(x[i])
		}
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64() //nolint:errcheck // json.Number is always numeric
		return f
	default:
		return v
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// sqlValue maps a filter value onto what json_extract returns.
func sqlValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// columnTimeLayout is fixed width so that created_at sorts as text.
const columnTimeLayout = "2006-01-02T15:04:05.000000000Z"

func stampOrNow(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(columnTimeLayout)
}

func requireRow(result sql.Result, entityType, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, entityType, id)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
