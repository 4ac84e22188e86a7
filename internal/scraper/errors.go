package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrFetch marks transport failures while loading the source page.
	ErrFetch = errors.New("fetch failed")
	// ErrExtraction means the page no longer has the expected layout.
	ErrExtraction = errors.New("extraction failed")
	// ErrDownload marks transport failures while downloading the image.
	ErrDownload = errors.New("download failed")
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// Temporary reports whether the server may answer differently later.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// IsRetryable reports whether a failed run is worth repeating. Client errors
// such as 404 or 403 are permanent.
func IsRetryable(err error) bool {
	if !errors.Is(err, ErrFetch) && !errors.Is(err, ErrDownload) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}
