package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const pictureColumns = `id, date, description, short_description, credit, image_url,
	original_image, dithered_image, created_at`

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
	now              func() time.Time
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
		now:              time.Now,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pictures (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			short_description TEXT NOT NULL DEFAULT '',
			credit TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL,
			original_image BLOB,
			dithered_image BLOB,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pictures_image_url ON pictures(image_url)`,
	}
	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return nil, err
		}
	}
	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// the file is created on connect, so a successful ping is enough
	return s.db.Ping() == nil
}

func (s *SQLiteDatabase) FindByDate(ctx context.Context, date time.Time) (*Picture, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+pictureColumns+" FROM pictures WHERE date = ?", FormatDate(date))
	return scanPicture(row)
}

func (s *SQLiteDatabase) FindByImageURL(ctx context.Context, imageURL string) (*Picture, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+pictureColumns+" FROM pictures WHERE image_url = ? ORDER BY date ASC LIMIT 1", imageURL)
	return scanPicture(row)
}

func (s *SQLiteDatabase) FindLatest(ctx context.Context) (*Picture, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+pictureColumns+" FROM pictures ORDER BY date DESC LIMIT 1")
	return scanPicture(row)
}

func (s *SQLiteDatabase) Insert(ctx context.Context, picture *Picture) (*Picture, error) {
	if picture == nil {
		return nil, errors.New("picture must not be nil")
	}
	if picture.Date.IsZero() {
		return nil, errors.New("picture date must be set")
	}

	stored := *picture
	stored.Date = DateOf(picture.Date)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO pictures (`+pictureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO NOTHING`,
		stored.ID,
		FormatDate(stored.Date),
		stored.Description,
		stored.ShortDescription,
		stored.Credit,
		stored.ImageURL,
		stored.OriginalImage,
		stored.DitheredImage,
		stored.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert picture for %s: %w", FormatDate(stored.Date), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert picture for %s: %w", FormatDate(stored.Date), err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrConflict, FormatDate(stored.Date))
	}
	return &stored, nil
}

func scanPicture(row *sql.Row) (*Picture, error) {
	var (
		picture   Picture
		date      string
		createdAt string
	)
	err := row.Scan(
		&picture.ID,
		&date,
		&picture.Description,
		&picture.ShortDescription,
		&picture.Credit,
		&picture.ImageURL,
		&picture.OriginalImage,
		&picture.DitheredImage,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if picture.Date, err = ParseDate(date); err != nil {
		return nil, err
	}
	if picture.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	return &picture, nil
}
