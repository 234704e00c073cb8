package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/fitlog_sync/internal/auth"
	"github.com/cybertec-postgresql/fitlog_sync/internal/record"
)

// DefaultRequestTimeout bounds every collection call
const DefaultRequestTimeout = 10 * time.Second

// pocketBaseTime is the layout PocketBase uses for system timestamps
const pocketBaseTime = "2006-01-02 15:04:05.000Z"

// system fields are managed by the server and never part of a payload
var systemFields = []string{"id", "collectionId", "collectionName", "created", "updated", "version", "userId", "expand"}

// HTTPClient talks to PocketBase-style record collections under {baseURL}/api/collections
type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
}

// HTTPOption customizes an HTTPClient
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithRequestTimeout bounds each request; non-positive values keep the default
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// NewHTTPClient creates a client for the service at baseURL
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     http.DefaultClient,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind returns a Store authenticating every request with the session token
func (c *HTTPClient) Bind(session auth.Session) Store {
	return &httpStore{client: c, token: session.Token}
}

// RequiresToken is always true, the collection API rejects anonymous requests
func (c *HTTPClient) RequiresToken() bool {
	return true
}

type httpStore struct {
	client *HTTPClient
	token  string
}

func (s *httpStore) Create(ctx context.Context, kind record.Kind, owner string, payload json.RawMessage, version int64) (Document, error) {
	body, err := requestBody(payload, version, owner)
	if err != nil {
		return Document{}, err
	}
	return s.do(ctx, "create", http.MethodPost, kind, "", body)
}

func (s *httpStore) Get(ctx context.Context, kind record.Kind, key string) (Document, error) {
	return s.do(ctx, "get", http.MethodGet, kind, key, nil)
}

func (s *httpStore) Update(ctx context.Context, kind record.Kind, key string, payload json.RawMessage, version int64) (Document, error) {
	body, err := requestBody(payload, version, "")
	if err != nil {
		return Document{}, err
	}
	return s.do(ctx, "update", http.MethodPatch, kind, key, body)
}

func (s *httpStore) do(ctx context.Context, op, method string, kind record.Kind, key string, body []byte) (Document, error) {
	collection := kind.Collection()
	fail := func(status int, err error) (Document, error) {
		return Document{}, &TransportError{Op: op, Collection: collection, Status: status, Err: err}
	}

	endpoint := s.client.baseURL + "/api/collections/" + url.PathEscape(collection) + "/records"
	if key != "" {
		endpoint += "/" + url.PathEscape(key)
	}

	ctx, cancel := context.WithTimeout(ctx, s.client.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fail(0, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, errors.New(errorMessage(raw, resp.Status)))
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	logrus.WithFields(logrus.Fields{
		"op":         op,
		"collection": collection,
		"remote_key": doc.Key,
		"version":    doc.Version,
	}).Debug("Remote call completed")
	return doc, nil
}

// requestBody flattens the payload fields next to the sync fields, the way
// the collections store them
func requestBody(payload json.RawMessage, version int64, owner string) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	v, _ := json.Marshal(version)
	fields["version"] = v
	if owner != "" {
		o, _ := json.Marshal(owner)
		fields["userId"] = o
	}
	return json.Marshal(fields)
}

func decodeDocument(raw []byte) (Document, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("failed to decode record: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(fields["id"], &doc.Key); err != nil || doc.Key == "" {
		return Document{}, errors.New("record has no id")
	}
	if v, ok := fields["version"]; ok {
		if err := json.Unmarshal(v, &doc.Version); err != nil {
			return Document{}, fmt.Errorf("bad version: %w", err)
		}
	}
	var updated string
	if err := json.Unmarshal(fields["updated"], &updated); err != nil {
		return Document{}, errors.New("record has no updated timestamp")
	}
	t, err := ParseTimestamp(updated)
	if err != nil {
		return Document{}, err
	}
	doc.Updated = t

	for _, f := range systemFields {
		delete(fields, f)
	}
	if doc.Payload, err = json.Marshal(fields); err != nil {
		return Document{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	return doc, nil
}

// ParseTimestamp accepts PocketBase and RFC3339 timestamps
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(pocketBaseTime, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func errorMessage(raw []byte, status string) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return status
}
