package scrape

import (
	"fmt"
	"time"

	"showscrape/internal/config"
)

// Deps are the shared collaborators adapters are built with.
type Deps struct {
	Fetcher  *Fetcher
	Renderer Renderer
	Now      func() time.Time
}

// NewFromConfig builds the adapter for one venue.
func NewFromConfig(v config.VenueConfig, d Deps) (Adapter, error) {
	if d.Fetcher == nil {
		d.Fetcher = NewFetcher(FetchOptions{})
	}
	switch v.Kind {
	case config.KindHTML:
		return NewHTMLAdapter(v, d.Fetcher, d.Renderer), nil
	case config.KindICS:
		return NewICSAdapter(v, d.Fetcher, d.Now), nil
	case config.KindJSON:
		return NewJSONAdapter(v, d.Fetcher), nil
	default:
		return nil, fmt.Errorf("venue %s: unknown adapter kind %q", v.ID, v.Kind)
	}
}

// NewRegistry builds adapters for every configured venue, in config order.
func NewRegistry(venues []config.VenueConfig, d Deps) ([]Adapter, error) {
	out := make([]Adapter, 0, len(venues))
	for _, v := range venues {
		a, err := NewFromConfig(v, d)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
