// Package firebase talks to a Firebase Realtime Database style REST endpoint
// holding the city collection under /cities.
package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

const (
	collection = "cities"

	headerETagRequest = "X-Firebase-ETag"
	headerIfMatch     = "if-match"

	defaultWriteAttempts = 5
)

// Entry is one stored record together with its storage key.
type Entry struct {
	Key  string
	City types.City
}

// Snapshot is the full collection as read at one point in time.
type Snapshot struct {
	Entries []Entry
	ETag    string
}

// Find returns the entry holding the city with the given id.
func (s Snapshot) Find(id int64) (Entry, bool) {
	for _, e := range s.Entries {
		if e.City.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Cities flattens the snapshot, tagging each city with its storage key.
func (s Snapshot) Cities() []types.City {
	out := make([]types.City, 0, len(s.Entries))
	for _, e := range s.Entries {
		c := e.City.Clone()
		c.Index = e.Key
		out = append(out, c)
	}
	return out
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("firebase: %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuth appends the auth query parameter (database secret or ID token) to every request.
func WithAuth(token string) Option {
	return func(c *Client) { c.auth = token }
}

// WithWriteRetry sets how conditional writes are retried after a 412.
func WithWriteRetry(attempts uint64, interval time.Duration) Option {
	return func(c *Client) {
		if attempts == 0 {
			attempts = 1
		}
		c.writeAttempts = attempts
		c.writeInterval = interval
	}
}

// Client is a small REST client for the city document store.
type Client struct {
	base          *url.URL
	http          *http.Client
	auth          string
	logger        *slog.Logger
	writeAttempts uint64
	writeInterval time.Duration
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid firebase base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid firebase base url %q: scheme and host are required", baseURL)
	}

	c := &Client{
		base:          u,
		http:          &http.Client{Timeout: 15 * time.Second},
		logger:        logger,
		writeAttempts: defaultWriteAttempts,
		writeInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchAll reads the whole collection. An empty or absent collection is an
// empty snapshot, not an error.
func (c *Client) FetchAll(ctx context.Context) (Snapshot, error) {
	ctx, span := otel.Tracer("FirebaseClient").Start(ctx, "FetchAll")
	defer span.End()

	body, etag, err := c.do(ctx, http.MethodGet, c.path(), nil, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return Snapshot{}, err
	}

	entries, err := decodeCollection(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return Snapshot{}, err
	}
	span.SetAttributes(attribute.Int("cities.count", len(entries)))
	return Snapshot{Entries: entries, ETag: etag}, nil
}

// fetchKey reads one location, returning nil when it is empty.
func (c *Client) fetchKey(ctx context.Context, key string) (*types.City, string, error) {
	body, etag, err := c.do(ctx, http.MethodGet, c.path(key), nil, "")
	if err != nil {
		return nil, "", err
	}
	var city *types.City
	if err := json.Unmarshal(body, &city); err != nil {
		return nil, "", fmt.Errorf("firebase: decode %s: %w", key, err)
	}
	return city, etag, nil
}

// Put writes one record at key. When ifMatch is non-empty the write is
// conditional and fails with types.ErrPreconditionFailed if the location
// changed.
func (c *Client) Put(ctx context.Context, key string, city types.City, ifMatch string) error {
	payload, err := json.Marshal(city.WithoutIndex())
	if err != nil {
		return fmt.Errorf("firebase: encode city: %w", err)
	}
	_, _, err = c.do(ctx, http.MethodPut, c.path(key), payload, ifMatch)
	return err
}

// Delete removes the record at key, conditionally when ifMatch is set.
func (c *Client) Delete(ctx context.Context, key string, ifMatch string) error {
	_, _, err := c.do(ctx, http.MethodDelete, c.path(key), nil, ifMatch)
	return err
}

// CreateAt stores city under the next free positional key. The location is
// read with its ETag and written conditionally so two writers that picked the
// same key cannot overwrite each other; the loser recomputes the key and
// tries again.
func (c *Client) CreateAt(ctx context.Context, snap Snapshot, city types.City) (string, error) {
	ctx, span := otel.Tracer("FirebaseClient").Start(ctx, "CreateAt")
	defer span.End()

	var key string
	first := true
	op := func() error {
		if !first {
			fresh, err := c.FetchAll(ctx)
			if err != nil {
				return backoff.Permanent(err)
			}
			snap = fresh
		}
		first = false

		key = NextKey(snap.Entries)
		existing, etag, err := c.fetchKey(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if existing != nil {
			// someone else already took this slot
			return types.ErrPreconditionFailed
		}
		err = c.Put(ctx, key, city, etag)
		if errors.Is(err, types.ErrPreconditionFailed) {
			c.logger.WarnContext(ctx, "Positional key taken concurrently, retrying", slog.String("key", key))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.writeInterval), c.writeAttempts-1),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return "", err
	}
	span.SetAttributes(attribute.String("cities.key", key))
	return key, nil
}

// DeleteEntry removes entry.Key, guarded by the location's ETag so a slot
// that was emptied or reused after the snapshot is left alone.
func (c *Client) DeleteEntry(ctx context.Context, entry Entry) error {
	ctx, span := otel.Tracer("FirebaseClient").Start(ctx, "DeleteEntry")
	defer span.End()
	span.SetAttributes(attribute.String("cities.key", entry.Key))

	current, etag, err := c.fetchKey(ctx, entry.Key)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if current == nil || current.ID != entry.City.ID {
		return fmt.Errorf("firebase: key %s: %w", entry.Key, types.ErrPreconditionFailed)
	}
	if err := c.Delete(ctx, entry.Key, etag); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return err
	}
	return nil
}

func (c *Client) path(key ...string) string {
	if len(key) == 0 {
		return "/" + collection + ".json"
	}
	return "/" + collection + "/" + url.PathEscape(key[0]) + ".json"
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, ifMatch string) ([]byte, string, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if c.auth != "" {
		q := u.Query()
		q.Set("auth", c.auth)
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, "", fmt.Errorf("firebase: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodGet {
		req.Header.Set(headerETagRequest, "true")
	}
	if ifMatch != "" {
		req.Header.Set(headerIfMatch, ifMatch)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("firebase: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("firebase: read %s %s: %w", method, path, err)
	}

	c.logger.DebugContext(ctx, "Firebase request completed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		return nil, "", fmt.Errorf("firebase: %s %s: %w", method, path, types.ErrPreconditionFailed)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, "", &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, resp.Header.Get("ETag"), nil
}

// decodeCollection accepts the three shapes the store returns for a
// collection: null, an object keyed by storage key, or an array (what the
// store renders when keys are sequential integers) with null holes.
func decodeCollection(body []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Entry{}, nil
	}

	var entries []Entry
	switch trimmed[0] {
	case '[':
		var list []*types.City
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("firebase: decode collection: %w", err)
		}
		for i, c := range list {
			if c == nil {
				continue
			}
			entries = append(entries, Entry{Key: strconv.Itoa(i), City: *c})
		}
	case '{':
		var m map[string]*types.City
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("firebase: decode collection: %w", err)
		}
		for k, c := range m {
			if c == nil {
				continue
			}
			entries = append(entries, Entry{Key: k, City: *c})
		}
		sortEntries(entries)
	default:
		return nil, fmt.Errorf("firebase: decode collection: unexpected payload %.20q", trimmed)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// sortEntries orders numeric keys numerically, then the rest lexically.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, aErr := strconv.Atoi(entries[i].Key)
		b, bErr := strconv.Atoi(entries[j].Key)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return entries[i].Key < entries[j].Key
		}
	})
}

// NextKey returns the positional key for a new record: the number of live
// entries, moved past any key that is still occupied.
func NextKey(entries []Entry) string {
	used := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		used[e.Key] = struct{}{}
	}
	n := len(entries)
	for {
		k := strconv.Itoa(n)
		if _, taken := used[k]; !taken {
			return k
		}
		n++
	}
}
