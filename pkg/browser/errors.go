// Package browser renders pages in a script-executing browser and reports
// the markup and any directly observed video source.
package browser

import (
	"errors"
	"fmt"
)

// ErrSuperseded is returned by Surface.Render when a newer render took the
// surface before this one finished.
var ErrSuperseded = errors.New("render superseded by a newer request")

// ErrorKind classifies browser failures.
type ErrorKind string

// KindLoadFailed means the engine could not load the page at all.
const KindLoadFailed ErrorKind = "load_failed"

// Error is a browser engine failure.
type Error struct {
	Kind        ErrorKind
	URL         string
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Kind, e.URL, e.Description)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func loadFailed(url, description string, err error) *Error {
	return &Error{Kind: KindLoadFailed, URL: url, Description: description, Err: err}
}
