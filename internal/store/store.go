package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a unique constraint violation, such as a duplicate transect name.
	ErrConflict = errors.New("conflict")
	// ErrInvalidReference reports a foreign key that points at a missing row.
	ErrInvalidReference = errors.New("invalid reference")
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

type Options struct {
	// Now overrides the clock used for row timestamps.
	Now func() time.Time
}

func New(gdb *gorm.DB, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: gdb, now: now}
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// timestampLayout has a fixed width so that timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

// classify maps driver constraint errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Join(ErrConflict, err)
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return errors.Join(ErrInvalidReference, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return errors.Join(ErrConflict, err)
		case pgerrcode.ForeignKeyViolation:
			return errors.Join(ErrInvalidReference, err)
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errors.Join(ErrConflict, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return errors.Join(ErrInvalidReference, err)
	}
	return err
}
