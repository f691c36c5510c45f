package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/repository"
)

// Get returns the record with the given store id.
// Returns an error wrapping entity.ErrNotFound if no record of that kind exists.
func (s *Store) Get(ctx context.Context, kind entity.Kind, id string) (*repository.Record, error) {
	rowID, err := parseID(kind, id)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, key_json, fields_json
		FROM entities
		WHERE id = ? AND kind = ?
	`, rowID, string(kind))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}

	if err := s.loadLinks(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Find looks a record up by natural key.
func (s *Store) Find(ctx context.Context, key repository.Key) (*repository.Record, error) {
	nk, err := key.String()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key.Kind, err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, key_json, fields_json
		FROM entities
		WHERE kind = ? AND natural_key = ?
	`, string(key.Kind), nk)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", nk, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key.Kind, err)
	}

	if err := s.loadLinks(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListReferencing returns records of kind whose link points at targetID.
// Results are ordered by id ASC.
func (s *Store) ListReferencing(ctx context.Context, kind entity.Kind, link, targetID string) ([]*repository.Record, error) {
	target, err := parseID(kind, targetID)
	if err != nil {
		return []*repository.Record{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT e.id, e.kind, e.key_json, e.fields_json
		FROM entities e
		JOIN links l ON l.from_id = e.id
		WHERE e.kind = ? AND l.name = ? AND l.to_id = ?
		ORDER BY e.id ASC
	`, string(kind), link, target)
	if err != nil {
		return nil, fmt.Errorf("query %s referencing %s: %w", kind, targetID, err)
	}
	return s.collect(ctx, rows)
}

// List returns every record of kind, ordered by id ASC.
func (s *Store) List(ctx context.Context, kind entity.Kind) ([]*repository.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, key_json, fields_json
		FROM entities
		WHERE kind = ?
		ORDER BY id ASC
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	return s.collect(ctx, rows)
}

// ReadAttachment returns the content stored under path.
func (s *Store) ReadAttachment(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM attachments WHERE path = ?`, path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %q: %w", path, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment %q: %w", path, err)
	}
	return content, nil
}

// collect scans all rows and loads their links. Closes rows.
func (s *Store) collect(ctx context.Context, rows *sql.Rows) ([]*repository.Record, error) {
	var records []*repository.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	// Release the single connection before loading links
	rows.Close()

	for _, rec := range records {
		if err := s.loadLinks(ctx, rec); err != nil {
			return nil, err
		}
	}

	// Return empty slice instead of nil
	if records == nil {
		records = []*repository.Record{}
	}
	return records, nil
}

// loadLinks fills rec.Links in position order.
func (s *Store) loadLinks(ctx context.Context, rec *repository.Record) error {
	rowID, err := parseID(rec.Kind, rec.ID)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, to_id
		FROM links
		WHERE from_id = ?
		ORDER BY name ASC, position ASC
	`, rowID)
	if err != nil {
		return fmt.Errorf("query links of %s %s: %w", rec.Kind, rec.ID, err)
	}
	defer rows.Close()

	rec.Links = map[string][]string{}
	for rows.Next() {
		var name string
		var to int64
		if err := rows.Scan(&name, &to); err != nil {
			return fmt.Errorf("scan link: %w", err)
		}
		rec.Links[name] = append(rec.Links[name], formatID(to))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate links: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*repository.Record, error) {
	var (
		id                 int64
		kind               string
		keyJSON, fieldJSON string
	)
	if err := row.Scan(&id, &kind, &keyJSON, &fieldJSON); err != nil {
		return nil, err
	}

	key, err := unmarshalObject(keyJSON)
	if err != nil {
		return nil, fmt.Errorf("record %d key: %w", id, err)
	}
	fields, err := unmarshalObject(fieldJSON)
	if err != nil {
		return nil, fmt.Errorf("record %d fields: %w", id, err)
	}

	return &repository.Record{
		Kind:   entity.Kind(kind),
		ID:     formatID(id),
		Key:    key,
		Fields: fields,
	}, nil
}
