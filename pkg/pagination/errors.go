package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrCountUnavailable indicates the probe could not determine the total.
	ErrCountUnavailable = errors.New("total count unavailable")

	// ErrPageRetrievalFailed indicates a page exhausted its retries.
	ErrPageRetrievalFailed = errors.New("page retrieval failed")
)

// PageRetrievalError reports the page that could not be retrieved. Pages
// returned alongside it are incomplete.
type PageRetrievalError struct {
	// Offset of the failing page.
	Offset int

	// Fetched is the number of pages retrieved before the failure.
	Fetched int

	// Total is the probed record count.
	Total int

	// Err is the last attempt's error.
	Err error
}

func (e *PageRetrievalError) Error() string {
	return fmt.Sprintf("page retrieval failed at offset %d (%d pages fetched, total %d): %v",
		e.Offset, e.Fetched, e.Total, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *PageRetrievalError) Unwrap() []error {
	return []error{ErrPageRetrievalFailed, e.Err}
}

// PageStatusError is returned by a page attempt that received a non-2xx
// response.
type PageStatusError struct {
	StatusCode int
	Offset     int
}

func (e *PageStatusError) Error() string {
	return fmt.Sprintf("page at offset %d: HTTP %d", e.Offset, e.StatusCode)
}
