// Package compose turns stored events into post drafts, through an
// OpenAI-compatible chat/completions endpoint when one answers and a local
// template otherwise.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	appLog "showscrape/internal/log"
	"showscrape/internal/model"
)

// ErrUnavailable wraps every failure of the completion call.
var ErrUnavailable = errors.New("composer unavailable")

// Kind selects the draft variant.
type Kind string

const (
	KindPost    Kind = "post"
	KindPreview Kind = "preview"
)

// ParseKind accepts "post" and "preview"; anything else is an error.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindPost:
		return KindPost, nil
	case KindPreview:
		return KindPreview, nil
	default:
		return "", fmt.Errorf("unknown draft kind %q", s)
	}
}

// Source records which producer wrote a draft.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// Draft is a composed text plus where it came from.
type Draft struct {
	EventID string `json:"event_id"`
	Kind    Kind   `json:"kind"`
	Source  string `json:"source"`
	Text    string `json:"text"`
}

type Options struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	// MaxChars caps the returned completion, counted in runes.
	MaxChars int
	Style    string
	Timeout  time.Duration
	// Location renders fallback times when the event has no local start.
	Location *time.Location
	Client   *http.Client
}

// Composer is safe for concurrent use.
type Composer struct {
	opts   Options
	client *http.Client
}

func New(opts Options) *Composer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Style == "" {
		opts.Style = "concise"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Composer{opts: opts, client: client}
}

// Compose never fails: a completion error is logged and replaced by the
// deterministic template.
func (c *Composer) Compose(ctx context.Context, ev model.Event, kind Kind) Draft {
	d := Draft{EventID: ev.ID, Kind: kind}
	text, err := c.Generate(ctx, ev, kind)
	if err != nil {
		appLog.Warn("draft fallback", "event", ev.ID, "kind", string(kind), "err", err.Error())
		d.Source = SourceFallback
		d.Text = c.fallback(ev, kind)
		return d
	}
	d.Source = SourceLLM
	d.Text = text
	return d
}

// Generate calls the completion endpoint only.
func (c *Composer) Generate(ctx context.Context, ev model.Event, kind Kind) (string, error) {
	if c.opts.Endpoint == "" {
		return "", fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
	}
	body, err := c.requestBody(ev, kind)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	url := strings.TrimRight(c.opts.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, snippet(raw))
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrUnavailable)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return truncateRunes(text, c.opts.MaxChars), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// promptEvent is the only event data the model sees.
type promptEvent struct {
	Artists       []string       `json:"artists"`
	VenueName     string         `json:"venue_name,omitempty"`
	StartLocal    string         `json:"start_local,omitempty"`
	StartUTC      string         `json:"start_utc"`
	DoorsLocal    string         `json:"doors_local,omitempty"`
	AllAges       *bool          `json:"is_all_ages,omitempty"`
	TicketURL     string         `json:"ticket_url,omitempty"`
	EventURL      string         `json:"event_url,omitempty"`
	PriceMinCents *int64         `json:"price_min_cents,omitempty"`
	PriceMaxCents *int64         `json:"price_max_cents,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

func payloadFor(ev model.Event) promptEvent {
	p := promptEvent{
		Artists:       ev.Artists,
		VenueName:     ev.VenueName,
		StartUTC:      ev.StartUTC.UTC().Format(time.RFC3339),
		AllAges:       ev.AllAges,
		TicketURL:     ev.TicketURL,
		EventURL:      ev.EventURL,
		PriceMinCents: ev.PriceMinCents,
		PriceMaxCents: ev.PriceMaxCents,
		Currency:      ev.Currency,
		Tags:          ev.Tags,
	}
	if len(p.Artists) == 0 {
		p.Artists = []string{model.UnknownPerformer}
	}
	if ev.StartLocal != nil {
		p.StartLocal = ev.StartLocal.Format(time.RFC3339)
	}
	if ev.DoorsLocal != nil {
		p.DoorsLocal = ev.DoorsLocal.Format(time.RFC3339)
	}
	if len(ev.Extra) > 0 {
		p.Extra = ev.Extra
	}
	return p
}

func (c *Composer) requestBody(ev model.Event, kind Kind) ([]byte, error) {
	eventJSON, err := json.MarshalIndent(payloadFor(ev), "", "  ")
	if err != nil {
		return nil, err
	}
	req := completionRequest{
		Model:       c.opts.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(kind)},
			{Role: "user", Content: userPrompt(kind, c.opts.Style, string(eventJSON))},
		},
	}
	return json.Marshal(req)
}

func systemPrompt(kind Kind) string {
	if kind == KindPreview {
		return "You summarize upcoming shows for internal review. Keep it concise and factual."
	}
	return "You write posts hyping upcoming live shows for a local music community group. " +
		"Sound like a trusted friend in the scene: energetic and respectful. " +
		"Use only the provided data and never invent details. " +
		"Lead with the headliner and venue. Include ticket and event links when present. American English."
}

func userPrompt(kind Kind, style, eventJSON string) string {
	audience := "community group"
	if kind == KindPreview {
		audience = "internal preview"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Format a short %s post for this show.\n\n", audience)
	fmt.Fprintf(&b, "JSON DATA:\n%s\n\n", eventJSON)
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Style: %s.\n", style)
	b.WriteString("- Hook readers with the headliner and venue immediately.\n")
	b.WriteString("- Describe the genre using provided tags or notes; skip it if there are none.\n")
	b.WriteString("- Include ticket and event links when present.\n")
	return b.String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max]))
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	return truncateRunes(s, 200)
}
