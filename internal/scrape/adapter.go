// Package scrape holds the venue adapters. Each adapter fetches one venue's
// listing and returns loosely-typed raw events; interpretation of times and
// prices is left to the normalizer.
package scrape

import (
	"context"
	"errors"
	"fmt"

	"showscrape/internal/model"
)

var (
	// ErrNoEvents is returned when a document was fetched and parsed but
	// contained no listings.
	ErrNoEvents = errors.New("no events found")
	// ErrHTTPStatus is matched by every *StatusError.
	ErrHTTPStatus = errors.New("unexpected http status")
)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d", e.URL, e.Status)
}

func (e *StatusError) Is(target error) bool { return target == ErrHTTPStatus }

// Info describes a configured adapter.
type Info struct {
	ID      string `json:"id"`
	VenueID string `json:"venue_id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Kind    string `json:"kind"`
}

// Adapter fetches one source. A returned error fails the whole source;
// per-item problems degrade the item instead.
type Adapter interface {
	Info() Info
	FetchEvents(ctx context.Context) ([]model.RawEvent, error)
}
