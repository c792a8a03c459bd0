package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"showscrape/internal/config"
	appLog "showscrape/internal/log"
	"showscrape/internal/model"
)

// JSONAdapter maps items of a JSON events feed onto raw events through
// configured field paths.
type JSONAdapter struct {
	venue   config.VenueConfig
	fetcher *Fetcher
}

// NewJSONAdapter returns an adapter for one JSON feed.
func NewJSONAdapter(v config.VenueConfig, f *Fetcher) *JSONAdapter {
	return &JSONAdapter{venue: v, fetcher: f}
}

func (a *JSONAdapter) Info() Info { return infoFor(a.venue) }

func (a *JSONAdapter) FetchEvents(ctx context.Context) ([]model.RawEvent, error) {
	res, err := a.fetcher.Fetch(ctx, a.venue.URL)
	if err != nil {
		return nil, err
	}
	return a.Parse(res.Body)
}

// wrapperKeys are tried, in order, when no items path is configured and the
// payload is an object rather than a bare array.
var wrapperKeys = []string{"events", "data", "items", "results", "shows"}

// Parse decodes a feed payload.
func (a *JSONAdapter) Parse(body []byte) ([]model.RawEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("json payload parse: %w", err)
	}

	items, err := a.items(doc)
	if err != nil {
		return nil, err
	}

	f := a.venue.JSON.Fields
	out := make([]model.RawEvent, 0, len(items))
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			appLog.Warn("json item is not an object", "venue", a.venue.ID, "index", i)
			continue
		}
		raw := model.RawEvent{
			Source:          a.venue.ID,
			VenueID:         a.venue.VenueID,
			VenueName:       a.venue.Name,
			VenueURL:        a.venue.URL,
			Timezone:        a.venue.Timezone,
			DefaultShowTime: a.venue.DefaultShowTime,
			StartText:       startString(lookup(obj, f.Start)),
			Artists:         artistsOf(lookup(obj, f.Artists)),
			TicketURL:       absoluteURL(a.venue.URL, scalar(lookup(obj, f.TicketURL))),
			EventURL:        absoluteURL(a.venue.URL, scalar(lookup(obj, f.EventURL))),
			PriceText:       scalar(lookup(obj, f.Price)),
			DoorsText:       scalar(lookup(obj, f.Doors)),
			AgeText:         scalar(lookup(obj, f.Age)),
			Tags:            stringsOf(lookup(obj, f.Tags)),
			Extra:           map[string]any{},
		}
		if name := scalar(lookup(obj, f.VenueName)); name != "" {
			raw.Extra["venue_label"] = name
		}
		if id := pickStr(obj, "id", "event_id", "uid"); id != "" {
			raw.Extra["feed_id"] = id
		}
		out = append(out, raw)
	}

	appLog.Debug("json parse completed", "venue", a.venue.ID, "event_count", len(out))
	if len(out) == 0 {
		return nil, fmt.Errorf("venue %s: %w", a.venue.ID, ErrNoEvents)
	}
	return out, nil
}

func (a *JSONAdapter) items(doc any) ([]any, error) {
	if path := a.venue.JSON.Items; path != "" {
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("json payload: items path %q needs an object", path)
		}
		arr, ok := lookup(obj, path).([]any)
		if !ok {
			return nil, fmt.Errorf("json payload: %q is not an array", path)
		}
		return arr, nil
	}
	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, k := range wrapperKeys {
			if arr, ok := v[k].([]any); ok {
				return arr, nil
			}
		}
	}
	return nil, fmt.Errorf("json payload: no event array found")
}

// lookup walks a dotted path ("dates.start") through nested objects.
func lookup(obj map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// pickStr returns the first non-empty string value among keys.
func pickStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := scalar(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return cleanText(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// startString renders a feed start value. Numbers are Unix seconds, or
// milliseconds when too large to be seconds.
func startString(v any) string {
	n, ok := v.(json.Number)
	if !ok {
		return scalar(v)
	}
	sec, err := n.Int64()
	if err != nil {
		return n.String()
	}
	if sec > 1e11 {
		return time.UnixMilli(sec).UTC().Format(time.RFC3339)
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

// artistsOf accepts "A w/ B", ["A","B"] or [{"name":"A"},...].
func artistsOf(v any) []string {
	switch t := v.(type) {
	case string:
		return SplitArtists(t)
	case []any:
		var out []string
		for _, e := range t {
			switch x := e.(type) {
			case string:
				if s := cleanText(x); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				if s := pickStr(x, "name", "title"); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	return nil
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		var out []string
		for _, s := range strings.Split(t, ",") {
			if s = cleanText(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		var out []string
		for _, e := range t {
			if s := scalar(e); s != "" {
				out = append(out, s)
			} else if m, ok := e.(map[string]any); ok {
				if s := pickStr(m, "name", "title"); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	return nil
}
