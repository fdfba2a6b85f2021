package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/casamocholi/organizer/internal/schema"
)

// DocumentStore is the create/fetch/replace triad the sync orchestrator
// depends on.
type DocumentStore interface {
	Create(ctx context.Context, token string, snap schema.Snapshot) (string, error)
	Fetch(ctx context.Context, token, id string) (schema.Snapshot, error)
	Replace(ctx context.Context, token, id string, snap schema.Snapshot) Result
}

// Ensure Client implements DocumentStore at compile time.
var _ DocumentStore = (*Client)(nil)

const (
	// DefaultBaseURL is the public document API.
	DefaultBaseURL = "https://api.github.com"

	// rawContentHost serves the full content of truncated files.
	rawContentHost = "gist.githubusercontent.com"

	defaultUserAgent = "organizer/0.1"
	acceptHeader     = "application/vnd.github.v3+json"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the document API.
	BaseURL string

	// Timeout bounds every round trip. Zero means no timeout.
	Timeout time.Duration

	// FailureThreshold consecutive transport failures open the circuit
	// breaker; calls then fail fast until OpenTimeout elapses.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client

	Logger *log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		Logger:           log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Client talks to the remote document API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	logger    *log.Logger
	userAgent string
}

// New creates a client for baseURL with default settings.
func New(baseURL string) (*Client, error) {
	cfg := DefaultConfig()
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a client with custom configuration.
func NewWithConfig(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host required", cfg.BaseURL)
	}

	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		baseURL:   base,
		http:      httpClient,
		logger:    cfg.Logger,
		userAgent: defaultUserAgent,
	}

	threshold := cfg.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-documents",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: countsAsSuccess,
	})

	return c, nil
}

// countsAsSuccess keeps answers from a reachable server out of the
// breaker's failure count.
func countsAsSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrSerialization)
}

// Create uploads snap as a new private document and returns its id.
func (c *Client) Create(ctx context.Context, token string, snap schema.Snapshot) (string, error) {
	content, err := encodeSnapshot(snap)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	private := false
	body := gist{
		Description: DocumentDescription,
		Public:      &private,
		Files:       map[string]gistFile{DocumentFile: {Content: content}},
	}

	var created gist
	if err := c.do(ctx, http.MethodPost, token, body, &created, "gists"); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: %w: response carried no document id", ErrCreateFailed, ErrSerialization)
	}

	c.logger.Printf("Created remote document %s", created.ID)
	return created.ID, nil
}

// Fetch downloads and parses the document's snapshot.
//
// Returns an error matching ErrNotFound when the document does not exist
// or lacks the data file; every other failure matches ErrFetchFailed.
func (c *Client) Fetch(ctx context.Context, token, id string) (schema.Snapshot, error) {
	if id == "" {
		return schema.Snapshot{}, fmt.Errorf("%w: empty document id", ErrNotFound)
	}

	var doc gist
	if err := c.do(ctx, http.MethodGet, token, nil, &doc, "gists", id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return schema.Snapshot{}, err
		}
		return schema.Snapshot{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	file, ok := doc.Files[DocumentFile]
	if !ok {
		return schema.Snapshot{}, fmt.Errorf("%w: document %s has no %s", ErrNotFound, id, DocumentFile)
	}

	content := file.Content
	if file.Truncated && file.RawURL != "" {
		raw, err := c.fetchRaw(ctx, token, file.RawURL)
		if err != nil {
			return schema.Snapshot{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
		content = raw
	}

	snap, err := schema.ParseSnapshot([]byte(content))
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("%w: %w: %v", ErrFetchFailed, ErrSerialization, err)
	}
	return snap, nil
}

// Replace overwrites the document's content with snap. Failures are
// reported through the result, never as an error value.
func (c *Client) Replace(ctx context.Context, token, id string, snap schema.Snapshot) Result {
	if id == "" {
		return Result{Error: "empty document id"}
	}

	content, err := encodeSnapshot(snap)
	if err != nil {
		return Result{Error: err.Error()}
	}

	body := gist{Files: map[string]gistFile{DocumentFile: {Content: content}}}
	if err := c.do(ctx, http.MethodPatch, token, body, nil, "gists", id); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true}
}

func encodeSnapshot(snap schema.Snapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return string(data), nil
}

func (c *Client) do(ctx context.Context, method, token string, body, dest any, elem ...string) error {
	reqURL := c.baseURL.JoinPath(elem...)
	path := "/" + strings.Join(elem, "/")

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrSerialization, err)
		}
		payload = data
	}

	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
		if err != nil {
			return nil, fmt.Errorf("%w: create request: %v", ErrTransport, err)
		}
		c.setHeaders(req, token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: execute request: %v", ErrTransport, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if err := checkStatus(method, path, resp.StatusCode); err != nil {
			return nil, err
		}
		if dest == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrSerialization, err)
		}
		return nil, nil
	})
	return breakerError(err)
}

// fetchRaw downloads the full content of a truncated file. The token is
// only sent to the API host and the raw content host.
func (c *Client) fetchRaw(ctx context.Context, token, rawURL string) (string, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: create request: %v", ErrTransport, err)
		}
		auth := token
		if !c.trustedHost(req.URL) {
			auth = ""
		}
		c.setHeaders(req, auth)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: execute request: %v", ErrTransport, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if err := checkStatus(http.MethodGet, "raw content", resp.StatusCode); err != nil {
			return nil, err
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read raw content: %v", ErrTransport, err)
		}
		return string(data), nil
	})
	if err != nil {
		return "", breakerError(err)
	}
	return out.(string), nil
}

func (c *Client) trustedHost(u *url.URL) bool {
	host := strings.ToLower(u.Host)
	return host == strings.ToLower(c.baseURL.Host) || host == rawContentHost
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func checkStatus(method, path string, code int) error {
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned status %d", ErrAuth, method, path, code)
	case code >= 400:
		return fmt.Errorf("%w: %s %s returned status %d", ErrTransport, method, path, code)
	}
	return nil
}

// breakerError maps the breaker's own rejections onto ErrTransport.
func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return err
}
