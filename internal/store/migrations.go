package store

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-signals/pkg/errors"
)

// RecordSchemaVersion notes the binary version that last applied the schema.
func (s *Store) RecordSchemaVersion(ctx context.Context, version string, at time.Time) error {
	_, err := s.exec(ctx, s.db, s.sq.Insert("schema_migrations").
		Columns("version", "applied_at").
		Values(version, at.UTC()))

	return err
}

// SchemaVersion returns the version recorded by the last migration. ok is
// false when the database was never migrated by a versioned binary.
func (s *Store) SchemaVersion(ctx context.Context) (version string, ok bool, err error) {
	err = s.getInto(ctx, s.db, &version, s.sq.Select("version").
		From("schema_migrations").
		OrderBy("id DESC").
		Limit(1))
	if errors.HasCode(err, errors.ErrCodeDataNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return version, true, nil
}
