package database

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of a picture date.
const DateLayout = time.DateOnly

// Picture is the record kept for one calendar day.
type Picture struct {
	ID               string    `db:"id"`
	Date             time.Time `db:"date"` // midnight UTC of the calendar day
	Description      string    `db:"description"`
	ShortDescription string    `db:"short_description"`
	Credit           string    `db:"credit"`
	ImageURL         string    `db:"image_url"` // canonical source URL, shared by recurring images
	OriginalImage    []byte    `db:"original_image"`
	DitheredImage    []byte    `db:"dithered_image"` // 1-bit PNG
	CreatedAt        time.Time `db:"created_at"`
}

// DateOf returns the calendar day of t, as seen in t's location, at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
