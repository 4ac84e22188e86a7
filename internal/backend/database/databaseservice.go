package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrConflict is returned by Insert when a picture for the same date already exists.
var ErrConflict = errors.New("picture for this date already exists")

// DatabaseService stores one Picture per calendar day. Lookups return
// (nil, nil) when nothing matches.
type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	FindByDate(ctx context.Context, date time.Time) (*Picture, error)
	// FindByImageURL returns the earliest picture that used the canonical image URL.
	FindByImageURL(ctx context.Context, imageURL string) (*Picture, error)
	FindLatest(ctx context.Context) (*Picture, error)
	// Insert writes picture in a single statement and fails with ErrConflict
	// if its date is taken. ID and CreatedAt are filled in when empty.
	Insert(ctx context.Context, picture *Picture) (*Picture, error)
}
