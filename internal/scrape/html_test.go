package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"showscrape/internal/config"
)

const listingPage = `<html><body>
<div class="show">
  <h2 class="artist"><a href="/shows/1">Built to Spill w/ Prism Bitch</a></h2>
  <div class="openers">Opener One<br>Opener Two</div>
  <span class="date">Tue Oct 7, 2025</span>
  <span class="doors">Doors 7pm / Show 8pm</span>
  <span class="age">All Ages</span>
  <a class="tix" href="https://tix.example/bts">Tickets</a>
  <a class="rsvp" href="/rsvp/1">RSVP</a>
  <span class="price">$25</span>
  <span class="venue">Treefort Music Hall</span>
  <ul><li class="tag">Rock</li><li class="tag">Indie</li></ul>
</div>
<div class="show">
  <span class="date">Oct 9</span>
  <span class="venue">Treefort Music Hall</span>
</div>
<div class="show">
  <h2 class="artist">Somebody Else</h2>
  <span class="date">Oct 10</span>
  <span class="venue">Other Room</span>
</div>
<div class="show"><img src="/spacer.gif"></div>
</body></html>`

func testHTMLVenue() config.VenueConfig {
	return config.VenueConfig{
		ID:              "treefort",
		VenueID:         "treefort",
		Name:            "Treefort Music Hall",
		URL:             "https://venue.example/shows/",
		Kind:            config.KindHTML,
		Timezone:        "America/Boise",
		DefaultShowTime: "19:00",
		Selectors: config.Selectors{
			Card:    "div.show",
			Artist:  "h2.artist",
			Openers: ".openers",
			Date:    ".date",
			Time:    ".doors",
			Doors:   ".doors",
			Age:     ".age",
			Ticket:  "a.tix",
			RSVP:    "a.rsvp",
			Price:   ".price",
			Tags:    ".tag",
			Venue:   ".venue",
		},
	}
}

func TestHTMLParseCards(t *testing.T) {
	a := NewHTMLAdapter(testHTMLVenue(), nil, nil)
	got, err := a.Parse(listingPage)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events (spacer card skipped), got %d", len(got))
	}

	first := got[0]
	wantArtists := []string{"Built to Spill", "Prism Bitch", "Opener One", "Opener Two"}
	if !reflect.DeepEqual(first.Artists, wantArtists) {
		t.Fatalf("artists = %q, want %q", first.Artists, wantArtists)
	}
	if first.StartText != "Tue Oct 7, 2025 Doors 7pm / Show 8pm" {
		t.Fatalf("start text = %q", first.StartText)
	}
	if first.DoorsText != "Doors 7pm / Show 8pm" || first.AgeText != "All Ages" || first.PriceText != "$25" {
		t.Fatalf("unexpected text fields: %+v", first)
	}
	if first.TicketURL != "https://tix.example/bts" {
		t.Fatalf("ticket = %q", first.TicketURL)
	}
	if first.EventURL != "https://venue.example/shows/1" {
		t.Fatalf("event url = %q", first.EventURL)
	}
	if first.Extra["rsvp_url"] != "https://venue.example/rsvp/1" {
		t.Fatalf("rsvp = %v", first.Extra["rsvp_url"])
	}
	if !reflect.DeepEqual(first.Tags, []string{"Rock", "Indie"}) {
		t.Fatalf("tags = %v", first.Tags)
	}
	if first.VenueID != "treefort" || first.Timezone != "America/Boise" || first.Source != "treefort" {
		t.Fatalf("venue fields not carried: %+v", first)
	}

	// A card missing its artist degrades instead of failing the fetch.
	second := got[1]
	if len(second.Artists) != 0 || second.StartText != "Oct 9" || second.TicketURL != "" {
		t.Fatalf("degraded card = %+v", second)
	}
}

func TestHTMLVenueMatchFiltersCards(t *testing.T) {
	v := testHTMLVenue()
	v.VenueMatch = "treefort"
	got, err := NewHTMLAdapter(v, nil, nil).Parse(listingPage)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 treefort cards, got %d", len(got))
	}
	for _, r := range got {
		if len(r.Artists) > 0 && r.Artists[0] == "Somebody Else" {
			t.Fatal("card for another room should be filtered")
		}
	}
}

func TestHTMLNoCardsIsNoEvents(t *testing.T) {
	_, err := NewHTMLAdapter(testHTMLVenue(), nil, nil).Parse(`<html><body><p>No shows</p></body></html>`)
	if !errors.Is(err, ErrNoEvents) {
		t.Fatalf("got %v, want ErrNoEvents", err)
	}
}

func TestHTMLFetchOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "showscrape-test" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	v := testHTMLVenue()
	v.URL = srv.URL + "/shows/"
	a := NewHTMLAdapter(v, NewFetcher(FetchOptions{UserAgent: "showscrape-test"}), nil)
	got, err := a.FetchEvents(context.Background())
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events", len(got))
	}
	if got[0].EventURL != srv.URL+"/shows/1" {
		t.Fatalf("event url = %q", got[0].EventURL)
	}
}

type fakeRenderer struct {
	url, wait string
	html      string
}

func (f *fakeRenderer) Render(_ context.Context, url, wait string) (string, error) {
	f.url, f.wait = url, wait
	return f.html, nil
}

func TestHTMLRenderedVenueUsesRenderer(t *testing.T) {
	v := testHTMLVenue()
	v.Render = true
	r := &fakeRenderer{html: listingPage}
	got, err := NewHTMLAdapter(v, nil, r).FetchEvents(context.Background())
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events", len(got))
	}
	if r.url != v.URL || r.wait != "div.show" {
		t.Fatalf("renderer called with %q / %q", r.url, r.wait)
	}
}

func TestSplitArtists(t *testing.T) {
	cases := map[string][]string{
		"DJ Shadow ft. Run Jewels": {"DJ Shadow", "Run Jewels"},
		"A w/ B":                   {"A", "B"},
		"A, B & C":                 {"A", "B", "C"},
		"A featuring B + C":        {"A", "B", "C"},
		"A with B / C":             {"A", "B", "C"},
		"  Solo   Act ":            {"Solo Act"},
		"":                         nil,
	}
	for in, want := range cases {
		if got := SplitArtists(in); !reflect.DeepEqual(got, want) {
			t.Errorf("SplitArtists(%q) = %q, want %q", in, got, want)
		}
	}
}
