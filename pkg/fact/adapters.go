package fact

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// HTTPAdapter fetches fact values from an HTTP source, rate-limited to be
// a polite external caller.
type HTTPAdapter struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPAdapter builds an HTTPAdapter with the given request rate and
// burst size.
func NewHTTPAdapter(client *http.Client, r rate.Limit, burst int) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{client: client, limiter: rate.NewLimiter(r, burst)}
}

func (a *HTTPAdapter) Protocol() string { return "http" }

func (a *HTTPAdapter) Fetch(ctx context.Context, source *bundle.Source, path string, factType bundle.Type) (bundle.Value, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return bundle.Value{}, err
	}

	url := strings.TrimRight(source.Params["base_url"], "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return bundle.Value{}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return bundle.Value{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return bundle.Value{}, tenorerr.New(tenorerr.KindAdapter, "http source %q returned status %d", source.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return bundle.Value{}, err
	}

	var raw any
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return bundle.Value{}, tenorerr.Wrap(tenorerr.KindAdapter, err, "http source %q returned non-JSON body", source.ID)
	}
	return bundle.DecodeValue(raw, factType)
}

// DatabaseAdapter resolves a fact value by querying a configured
// database/sql handle. path is a single-row, single-column SQL query
// (callers are expected to template instance identifiers into Params
// rather than into path, keeping query text static and trusted).
type DatabaseAdapter struct {
	db *sql.DB
}

// NewDatabaseAdapter wraps an existing *sql.DB; the same handle the
// storage backend uses may be shared here.
func NewDatabaseAdapter(db *sql.DB) *DatabaseAdapter {
	return &DatabaseAdapter{db: db}
}

func (a *DatabaseAdapter) Protocol() string { return "database" }

func (a *DatabaseAdapter) Fetch(ctx context.Context, source *bundle.Source, path string, factType bundle.Type) (bundle.Value, error) {
	row := a.db.QueryRowContext(ctx, path)
	var raw any
	if err := row.Scan(&raw); err != nil {
		return bundle.Value{}, tenorerr.Wrap(tenorerr.KindAdapter, err, "database source %q query failed", source.ID)
	}
	return bundle.DecodeValue(normalizeSQLValue(raw), factType)
}

func normalizeSQLValue(raw any) any {
	switch v := raw.(type) {
	case []byte:
		return string(v)
	default:
		return v
	}
}

// StaticAdapter serves fact values from an in-memory constant table,
// loaded once at construction (e.g. from the source's params). It never
// performs I/O, so it never suspends.
type StaticAdapter struct {
	mu     sync.RWMutex
	values map[string]map[string]any // source id -> path -> raw value
}

// NewStaticAdapter builds an empty StaticAdapter; call Seed to load
// values for a source.
func NewStaticAdapter() *StaticAdapter {
	return &StaticAdapter{values: map[string]map[string]any{}}
}

// Seed installs the constant table for one source id.
func (a *StaticAdapter) Seed(sourceID string, table map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[sourceID] = table
}

func (a *StaticAdapter) Protocol() string { return "static" }

func (a *StaticAdapter) Fetch(_ context.Context, source *bundle.Source, path string, factType bundle.Type) (bundle.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	table, ok := a.values[source.ID]
	if !ok {
		return bundle.Value{}, tenorerr.New(tenorerr.KindAdapter, "static source %q has no seeded table", source.ID)
	}
	raw, ok := table[path]
	if !ok {
		return bundle.Value{}, tenorerr.New(tenorerr.KindAdapter, "static source %q has no value at path %q", source.ID, path)
	}
	return bundle.DecodeValue(raw, factType)
}

// ManualAdapter always fails: a manual-protocol source is, by definition,
// only satisfiable by a human supplying the fact directly, so its "fetch"
// is never automatable.
type ManualAdapter struct{}

func (ManualAdapter) Protocol() string { return "manual" }

func (ManualAdapter) Fetch(_ context.Context, source *bundle.Source, path string, _ bundle.Type) (bundle.Value, error) {
	return bundle.Value{}, tenorerr.New(tenorerr.KindAdapter, "source %q is manual-only; supply this fact directly instead of through an adapter", source.ID)
}
