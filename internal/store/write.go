package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/repository"
)

// Create inserts a new record and returns its store id.
// The UNIQUE(kind, natural_key) constraint rejects a second record with
// the same natural key.
func (s *Store) Create(ctx context.Context, rec *repository.Record) (string, error) {
	nk, err := rec.NaturalKey()
	if err != nil {
		return "", fmt.Errorf("create %s: %w", rec.Kind, err)
	}
	keyJSON, err := marshalObject(rec.Key)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", rec.Kind, err)
	}
	fieldsJSON, err := marshalObject(rec.Fields)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", rec.Kind, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("create %s: begin tx: %w", rec.Kind, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO entities (kind, natural_key, key_json, fields_json)
		VALUES (?, ?, ?, ?)
	`, string(rec.Kind), nk, keyJSON, fieldsJSON)
	if err != nil {
		return "", fmt.Errorf("create %s: insert: %w", rec.Kind, err)
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("create %s: last insert id: %w", rec.Kind, err)
	}

	for _, name := range repository.SortedLinkNames(rec.Links) {
		if err := insertLinks(ctx, tx, rowID, name, rec.Links[name]); err != nil {
			return "", fmt.Errorf("create %s: %w", rec.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("create %s: commit: %w", rec.Kind, err)
	}
	return formatID(rowID), nil
}

// Update applies patch to the record with the given id.
// Natural-key fields and key links are never changed by an update.
func (s *Store) Update(ctx context.Context, kind entity.Kind, id string, patch repository.Patch) error {
	rowID, err := parseID(kind, id)
	if err != nil {
		return err
	}

	schema := entity.SchemaOf(kind)
	for name := range patch.Links {
		if spec, ok := schema.Link(name); ok && spec.Key {
			return fmt.Errorf("update %s %s: key link %q is immutable", kind, id, name)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %s %s: begin tx: %w", kind, id, err)
	}
	defer tx.Rollback()

	var fieldsJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT fields_json FROM entities WHERE id = ? AND kind = ?
	`, rowID, string(kind)).Scan(&fieldsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %s %s: %w", kind, id, entity.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s %s: select: %w", kind, id, err)
	}

	if len(patch.Fields) > 0 {
		fields, err := unmarshalObject(fieldsJSON)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", kind, id, err)
		}
		for f, v := range patch.Fields {
			fields[f] = v
		}
		merged, err := marshalObject(fields)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", kind, id, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET fields_json = ? WHERE id = ?`, merged, rowID); err != nil {
			return fmt.Errorf("update %s %s: fields: %w", kind, id, err)
		}
	}

	for _, name := range repository.SortedLinkNames(patch.Links) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE from_id = ? AND name = ?`, rowID, name); err != nil {
			return fmt.Errorf("update %s %s: clear link %q: %w", kind, id, name, err)
		}
		if err := insertLinks(ctx, tx, rowID, name, patch.Links[name]); err != nil {
			return fmt.Errorf("update %s %s: %w", kind, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %s %s: commit: %w", kind, id, err)
	}
	return nil
}

// Delete removes a record and its outbound links. Links from other records
// pointing at it are left dangling.
func (s *Store) Delete(ctx context.Context, kind entity.Kind, id string) error {
	rowID, err := parseID(kind, id)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ? AND kind = ?`, rowID, string(kind))
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: rows affected: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s %s: %w", kind, id, entity.ErrNotFound)
	}
	return nil
}

func insertLinks(ctx context.Context, tx *sql.Tx, fromID int64, name string, targets []string) error {
	for pos, target := range targets {
		to, err := parseID(entity.Kind(name), target)
		if err != nil {
			return fmt.Errorf("link %q: %w", name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO links (from_id, name, position, to_id)
			VALUES (?, ?, ?, ?)
		`, fromID, name, pos, to)
		if err != nil {
			return fmt.Errorf("insert link %q: %w", name, err)
		}
	}
	return nil
}
