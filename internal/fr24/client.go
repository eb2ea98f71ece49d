// Package fr24 is a small client for the FlightRadar24 public web feed.
package fr24

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrUnavailable marks flights the feed refuses to serve: rate limits,
// paywalled details and bot challenges. Callers skip such flights.
var ErrUnavailable = errors.New("flight data unavailable")

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL        string
	StatusCode int
	Challenge  bool
}

func (e *StatusError) Error() string {
	if e.Challenge {
		return fmt.Sprintf("fr24 %s: status %d (bot challenge)", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fr24 %s: status %d", e.URL, e.StatusCode)
}

// Is reports rate-limit, paywall and challenge responses as ErrUnavailable.
func (e *StatusError) Is(target error) bool {
	if target != ErrUnavailable {
		return false
	}
	if e.Challenge {
		return true
	}
	switch e.StatusCode {
	case http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests,
		http.StatusUnavailableForLegalReasons:
		return true
	}
	return e.StatusCode >= 520 && e.StatusCode <= 530
}

// Config configures the client.
type Config struct {
	FeedURL    string
	DetailsURL string
	UserAgent  string
	Timeout    time.Duration
	// Bounds limits the feed to "north,south,west,east" when set.
	Bounds string
}

// Client fetches the live flight list and per-flight details.
type Client struct {
	feedURL    string
	detailsURL string
	userAgent  string
	bounds     string
	httpClient *http.Client
}

// New builds a client from configuration.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		feedURL:    cfg.FeedURL,
		detailsURL: cfg.DetailsURL,
		userAgent:  cfg.UserAgent,
		bounds:     cfg.Bounds,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FeedFlight is one entry of the live feed.
type FeedFlight struct {
	ID           string
	ICAO24       string
	Registration string
	Callsign     string
	Origin       string
	Destination  string
	Timestamp    time.Time
}

// ListFlights returns the flights currently in the live feed, ordered by id.
func (c *Client) ListFlights(ctx context.Context) ([]FeedFlight, error) {
	params := url.Values{
		"faa":       {"1"},
		"satellite": {"1"},
		"mlat":      {"1"},
		"flarm":     {"1"},
		"adsb":      {"1"},
		"gnd":       {"0"},
		"air":       {"1"},
		"vehicles":  {"0"},
		"estimated": {"1"},
		"maxage":    {"14400"},
		"gliders":   {"0"},
		"stats":     {"0"},
		"limit":     {"5000"},
	}
	if c.bounds != "" {
		params.Set("bounds", c.bounds)
	}

	var raw map[string]json.RawMessage
	if err := c.getJSON(ctx, c.feedURL, params, &raw); err != nil {
		return nil, err
	}
	return parseFeed(raw), nil
}

// parseFeed keeps the entries whose value is a position array; the other
// keys carry counters and metadata.
func parseFeed(raw map[string]json.RawMessage) []FeedFlight {
	flights := make([]FeedFlight, 0, len(raw))
	for id, msg := range raw {
		var fields []any
		if err := json.Unmarshal(msg, &fields); err != nil || len(fields) < 17 {
			continue
		}
		f := FeedFlight{
			ID:           id,
			ICAO24:       str(fields[0]),
			Registration: str(fields[9]),
			Origin:       str(fields[11]),
			Destination:  str(fields[12]),
			Callsign:     str(fields[16]),
		}
		if ts, ok := fields[10].(float64); ok && ts > 0 {
			f.Timestamp = time.Unix(int64(ts), 0).UTC()
		}
		flights = append(flights, f)
	}
	sort.Slice(flights, func(i, j int) bool { return flights[i].ID < flights[j].ID })
	return flights
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// FlightDetails fetches the detail document of one flight. Numbers in
// loosely typed fields decode as json.Number.
func (c *Client) FlightDetails(ctx context.Context, id string) (*Details, error) {
	params := url.Values{"flight": {id}, "version": {"1.5"}}

	var d Details
	if err := c.getJSON(ctx, c.detailsURL, params, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, dst any) error {
	u := endpoint
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Challenge:  isChallenge(resp, body),
		}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func isChallenge(resp *http.Response, body []byte) bool {
	if resp.Header.Get("cf-mitigated") == "challenge" {
		return true
	}
	return strings.Contains(string(body), "Just a moment") || strings.Contains(string(body), "cf-chl")
}
