package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/casamocholi/organizer/internal/schema"
)

// fakeGists is an in-memory document API.
type fakeGists struct {
	mu       sync.Mutex
	docs     map[string]string
	nextID   int
	token    string
	requests []string
	fail     int
}

func newFakeGists(token string) *fakeGists {
	return &fakeGists{docs: make(map[string]string), token: token}
}

func (f *fakeGists) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if f.fail > 0 {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/gists":
		var body gist
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Public == nil || *body.Public {
			http.Error(w, "documents must be private", http.StatusUnprocessableEntity)
			return
		}
		f.nextID++
		id := "doc" + string(rune('0'+f.nextID))
		f.docs[id] = body.Files[DocumentFile].Content
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(gist{ID: id})

	case strings.HasPrefix(r.URL.Path, "/gists/"):
		id := strings.TrimPrefix(r.URL.Path, "/gists/")
		content, ok := f.docs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			files := map[string]gistFile{}
			if content != "" {
				files[DocumentFile] = gistFile{Content: content}
			}
			_ = json.NewEncoder(w).Encode(gist{ID: id, Files: files})
		case http.MethodPatch:
			var body gist
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.docs[id] = body.Files[DocumentFile].Content
			_ = json.NewEncoder(w).Encode(gist{ID: id})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.Timeout = 2 * time.Second
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Minute
	cfg.Logger = log.New(io.Discard, "", 0)
	c, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig returned error: %v", err)
	}
	return c
}

func sampleSnapshot(t *testing.T) schema.Snapshot {
	t.Helper()
	snap, err := schema.ParseSnapshot([]byte(`{
		"calendar_events":[{"id":"1","title":"Cumpleaños","updatedAt":"2024-01-01T00:00:00.000Z"}],
		"expenses":[],"shopping_list":[],"recurring_bills":[],"household_tasks":[],
		"monthly_budget":{"amount":1000,"updatedAt":"2024-01-01T00:00:00.000Z"}
	}`))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	return snap
}

func TestCreateFetchReplace(t *testing.T) {
	fake := newFakeGists("tok")
	c := newTestClient(t, fake)
	ctx := context.Background()

	id, err := c.Create(ctx, "tok", sampleSnapshot(t))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned an empty id")
	}

	got, err := c.Fetch(ctx, "tok", id)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(got.CalendarEvents) != 1 || got.CalendarEvents[0].ID() != "1" {
		t.Fatalf("fetched events = %v", got.CalendarEvents)
	}
	if got.Recipes != nil {
		t.Error("collection absent from the document should stay absent")
	}

	updated := got
	updated.Recipes = []schema.Record{}
	if res := c.Replace(ctx, "tok", id, updated); !res.Success {
		t.Fatalf("Replace failed: %s", res.Error)
	}

	again, err := c.Fetch(ctx, "tok", id)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if again.Recipes == nil {
		t.Error("replaced content not visible on fetch")
	}
}

func TestFetchNotFound(t *testing.T) {
	fake := newFakeGists("tok")
	fake.docs["empty"] = ""
	c := newTestClient(t, fake)
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
	}{
		{"unknown id", "missing"},
		{"document without data file", "empty"},
		{"empty id", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Fetch(ctx, "tok", tt.id)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Fetch error = %v, want ErrNotFound", err)
			}
			if errors.Is(err, ErrFetchFailed) {
				t.Error("not-found must be distinguishable from other fetch failures")
			}
		})
	}
}

func TestFetchMalformedContent(t *testing.T) {
	fake := newFakeGists("tok")
	fake.docs["bad"] = "{not json"
	c := newTestClient(t, fake)

	_, err := c.Fetch(context.Background(), "tok", "bad")
	if !errors.Is(err, ErrFetchFailed) || !errors.Is(err, ErrSerialization) {
		t.Fatalf("Fetch error = %v, want ErrFetchFailed and ErrSerialization", err)
	}
}

func TestAuthFailureIsTransportFailure(t *testing.T) {
	fake := newFakeGists("tok")
	fake.docs["doc1"] = "{}"
	c := newTestClient(t, fake)
	ctx := context.Background()

	_, err := c.Fetch(ctx, "wrong", "doc1")
	if !errors.Is(err, ErrAuth) || !errors.Is(err, ErrTransport) || !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("Fetch error = %v, want ErrAuth, ErrTransport and ErrFetchFailed", err)
	}

	_, err = c.Create(ctx, "wrong", schema.Snapshot{})
	if !errors.Is(err, ErrCreateFailed) || !errors.Is(err, ErrAuth) {
		t.Fatalf("Create error = %v, want ErrCreateFailed wrapping ErrAuth", err)
	}

	res := c.Replace(ctx, "wrong", "doc1", schema.Snapshot{})
	if res.Success || res.Error == "" {
		t.Fatalf("Replace result = %+v, want failure with message", res)
	}
}

func TestReplaceNeverPanicsOnTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.Logger = log.New(io.Discard, "", 0)
	c, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig returned error: %v", err)
	}

	res := c.Replace(context.Background(), "tok", "doc1", schema.Snapshot{})
	if res.Success || res.Error == "" {
		t.Fatalf("Replace result = %+v, want failure", res)
	}
}

func TestRequestHeaders(t *testing.T) {
	var gotAuth, gotAccept string
	server := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		_ = json.NewEncoder(w).Encode(gist{ID: "x", Files: map[string]gistFile{DocumentFile: {Content: "{}"}}})
	})
	c := newTestClient(t, server)

	if _, err := c.Fetch(context.Background(), "secret", "x"); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer credential", gotAuth)
	}
	if gotAccept != acceptHeader {
		t.Errorf("Accept = %q, want %q", gotAccept, acceptHeader)
	}
}

func TestFetchFollowsTruncatedContent(t *testing.T) {
	mux := http.NewServeMux()
	var rawURL string
	mux.HandleFunc("/gists/big", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gist{
			ID: "big",
			Files: map[string]gistFile{DocumentFile: {
				Content:   `{"calendar_ev`,
				Truncated: true,
				RawURL:    rawURL,
			}},
		})
	})
	var rawAuth string
	mux.HandleFunc("/raw/big", func(w http.ResponseWriter, r *http.Request) {
		rawAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"calendar_events":[{"id":"9"}]}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	rawURL = server.URL + "/raw/big"

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.Logger = log.New(io.Discard, "", 0)
	c, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig returned error: %v", err)
	}

	snap, err := c.Fetch(context.Background(), "tok", "big")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(snap.CalendarEvents) != 1 || snap.CalendarEvents[0].ID() != "9" {
		t.Errorf("events = %v, want full raw content", snap.CalendarEvents)
	}
	if rawAuth != "Bearer tok" {
		t.Errorf("raw Authorization = %q, want the credential on the API host", rawAuth)
	}
}

func TestFetchRawWithholdsTokenFromOtherHosts(t *testing.T) {
	var rawAuth string
	rawServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"calendar_events":[{"id":"9"}]}`)
	}))
	t.Cleanup(rawServer.Close)

	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gist{
			ID: "big",
			Files: map[string]gistFile{DocumentFile: {
				Content:   `{"calendar_ev`,
				Truncated: true,
				RawURL:    rawServer.URL + "/raw/big",
			}},
		})
	})
	c := newTestClient(t, api)

	snap, err := c.Fetch(context.Background(), "secret", "big")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(snap.CalendarEvents) != 1 {
		t.Errorf("events = %v, want full raw content", snap.CalendarEvents)
	}
	if rawAuth != "" {
		t.Errorf("raw Authorization = %q, want no credential for a foreign host", rawAuth)
	}
}

func TestBreakerOpensAfterRepeatedTransportFailures(t *testing.T) {
	fake := newFakeGists("tok")
	fake.fail = 1
	c := newTestClient(t, fake)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Fetch(ctx, "tok", "doc1"); !errors.Is(err, ErrTransport) {
			t.Fatalf("attempt %d error = %v, want ErrTransport", i, err)
		}
	}

	fake.mu.Lock()
	before := len(fake.requests)
	fake.mu.Unlock()

	_, err := c.Fetch(ctx, "tok", "doc1")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("open breaker error = %v, want ErrTransport", err)
	}

	fake.mu.Lock()
	after := len(fake.requests)
	fake.mu.Unlock()
	if after != before {
		t.Error("open breaker still issued a request")
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	c := newTestClient(t, newFakeGists("tok"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := c.Fetch(ctx, "tok", "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("attempt %d error = %v, want ErrNotFound", i, err)
		}
	}
}

func TestNewWithConfigRejectsBadURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "not a url"
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected an error for a base url without scheme")
	}
}
