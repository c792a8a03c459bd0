package scrape

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"showscrape/internal/config"
	appLog "showscrape/internal/log"
	"showscrape/internal/model"
)

// HTMLAdapter extracts listing cards from a venue page using configured
// CSS selectors.
type HTMLAdapter struct {
	venue    config.VenueConfig
	fetcher  *Fetcher
	renderer Renderer
}

// NewHTMLAdapter returns an adapter for one HTML venue. renderer is only
// used when the venue has render enabled.
func NewHTMLAdapter(v config.VenueConfig, f *Fetcher, r Renderer) *HTMLAdapter {
	return &HTMLAdapter{venue: v, fetcher: f, renderer: r}
}

func (a *HTMLAdapter) Info() Info { return infoFor(a.venue) }

func (a *HTMLAdapter) FetchEvents(ctx context.Context) ([]model.RawEvent, error) {
	doc, err := a.document(ctx)
	if err != nil {
		return nil, err
	}
	return a.Parse(doc)
}

func (a *HTMLAdapter) document(ctx context.Context) (string, error) {
	if a.venue.Render {
		if a.renderer == nil {
			return "", fmt.Errorf("venue %s: render requested but no renderer configured", a.venue.ID)
		}
		return a.renderer.Render(ctx, a.venue.URL, a.venue.Selectors.Card)
	}
	res, err := a.fetcher.Fetch(ctx, a.venue.URL)
	if err != nil {
		return "", err
	}
	return string(res.Body), nil
}

// Parse extracts raw events from an HTML document.
func (a *HTMLAdapter) Parse(html string) ([]model.RawEvent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	sel := a.venue.Selectors
	base := a.venue.URL

	var out []model.RawEvent
	skipped := 0
	doc.Find(sel.Card).Each(func(_ int, card *goquery.Selection) {
		if a.venue.VenueMatch != "" && sel.Venue != "" {
			label := textOf(card, sel.Venue)
			if !strings.Contains(strings.ToLower(label), strings.ToLower(a.venue.VenueMatch)) {
				skipped++
				return
			}
		}

		headline := textOf(card, sel.Artist)
		artists := SplitArtists(headline)
		if sel.Openers != "" {
			openers := card.Find(sel.Openers).First()
			openers.Find("br").ReplaceWithHtml(", ")
			artists = append(artists, SplitArtists(openers.Text())...)
		}

		dateText := textOf(card, sel.Date)
		startText := attrOf(card, sel.Date, "datetime")
		if startText == "" {
			startText = cleanText(dateText + " " + textOf(card, sel.Time))
		}
		if startText == "" && headline == "" {
			// Decorative or placeholder card.
			skipped++
			return
		}

		raw := model.RawEvent{
			Source:          a.venue.ID,
			VenueID:         a.venue.VenueID,
			VenueName:       a.venue.Name,
			VenueURL:        base,
			StartText:       startText,
			Timezone:        a.venue.Timezone,
			DefaultShowTime: a.venue.DefaultShowTime,
			Artists:         artists,
			PriceText:       textOf(card, sel.Price),
			DoorsText:       textOf(card, sel.Doors),
			AgeText:         textOf(card, sel.Age),
			TicketURL:       absoluteURL(base, attrOf(card, sel.Ticket, "href")),
			Extra:           map[string]any{},
		}

		detail := attrOf(card, sel.Detail, "href")
		if detail == "" && sel.Artist != "" {
			detail = attrOf(card, sel.Artist+" a", "href")
			if detail == "" {
				if h, ok := card.Find(sel.Artist).First().Closest("a").Attr("href"); ok {
					detail = h
				}
			}
		}
		raw.EventURL = absoluteURL(base, detail)

		if sel.Tags != "" {
			card.Find(sel.Tags).Each(func(_ int, t *goquery.Selection) {
				if s := cleanText(t.Text()); s != "" {
					raw.Tags = append(raw.Tags, s)
				}
			})
		}

		if dateText != "" {
			raw.Extra["raw_date"] = dateText
		}
		if raw.DoorsText != "" {
			raw.Extra["doors_text"] = raw.DoorsText
		}
		if raw.AgeText != "" {
			raw.Extra["age_raw"] = raw.AgeText
		}
		if rsvp := absoluteURL(base, attrOf(card, sel.RSVP, "href")); rsvp != "" {
			raw.Extra["rsvp_url"] = rsvp
		}
		out = append(out, raw)
	})

	appLog.Debug("html parse completed", "venue", a.venue.ID, "event_count", len(out), "skipped", skipped)
	if len(out) == 0 {
		return nil, fmt.Errorf("venue %s: %w", a.venue.ID, ErrNoEvents)
	}
	return out, nil
}

// textOf returns the cleaned text of the first match, or "".
func textOf(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return cleanText(s.Find(selector).First().Text())
}

func attrOf(s *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}
	v, _ := s.Find(selector).First().Attr(attr)
	return strings.TrimSpace(v)
}

func infoFor(v config.VenueConfig) Info {
	return Info{ID: v.ID, VenueID: v.VenueID, Name: v.Name, URL: v.URL, Kind: v.Kind}
}
