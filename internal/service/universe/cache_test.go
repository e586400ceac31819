package universe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"IndexPull/internal/domain/models"
	xhttp "IndexPull/pkg/http"
)

const listingHTML = `<html><body>
<table class="wikitable sortable">
<tr><th>Symbol</th><th>Security</th><th>Sector</th></tr>
<tr><td><a href="/q?s=AAPL">AAPL</a></td><td>Apple Inc.</td><td>Technology</td></tr>
<tr><td>MSFT</td><td>Microsoft</td><td>Technology</td></tr>
<tr><td>BRK.B</td><td>Berkshire Hathaway</td><td>Financials</td></tr>
<tr><td>AAPL</td><td>Apple duplicate row</td><td>Technology</td></tr>
</table>
<table class="wikitable"><tr><td>CHANGES</td><td>should be ignored</td></tr></table>
</body></html>`

func newListingServer(t *testing.T, hits *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt64(hits, 1)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(listingHTML))
	}))
}

func TestCurrentFetchesAndParses(t *testing.T) {
	srv := newListingServer(t, nil)
	defer srv.Close()

	c := New(Config{
		ListingURL:    srv.URL,
		SnapshotPath:  filepath.Join(t.TempDir(), "universe.json"),
		CacheDuration: 7 * 24 * time.Hour,
	}, xhttp.NewClient(), nil)

	snap, err := c.Current(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	want := []string{"AAPL", "BRK.B", "MSFT"}
	if len(snap.Symbols) != len(want) {
		t.Fatalf("symbols = %v, want %v", snap.Symbols, want)
	}
	for i, s := range want {
		if snap.Symbols[i] != s {
			t.Fatalf("symbols = %v, want %v", snap.Symbols, want)
		}
	}
	if snap.Names["MSFT"] != "Microsoft" {
		t.Fatalf("name for MSFT = %q", snap.Names["MSFT"])
	}
}

func TestCurrentServesFreshWithoutNetwork(t *testing.T) {
	var hits int64
	srv := newListingServer(t, &hits)
	defer srv.Close()

	c := New(Config{
		ListingURL:    srv.URL,
		SnapshotPath:  filepath.Join(t.TempDir(), "universe.json"),
		CacheDuration: time.Hour,
	}, xhttp.NewClient(), nil)

	ctx := context.Background()
	if _, err := c.Current(ctx, false); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.Current(ctx, false); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Fatalf("listing fetched %d times, want 1", got)
	}
}

func TestCurrentConcurrentCallersRefreshOnce(t *testing.T) {
	var hits int64
	// slow listing source so concurrent callers pile up on the refresh
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	c := New(Config{
		ListingURL:    srv.URL,
		SnapshotPath:  filepath.Join(t.TempDir(), "universe.json"),
		CacheDuration: time.Hour,
	}, xhttp.NewClient(), nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	snaps := make([]*models.UniverseSnapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i], errs[i] = c.Current(context.Background(), false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if snaps[i] == nil || len(snaps[i].Symbols) != 3 {
			t.Fatalf("caller %d got snapshot %+v", i, snaps[i])
		}
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Fatalf("listing fetched %d times by %d concurrent callers, want 1", got, callers)
	}
}

func TestCurrentForceBypassesFreshness(t *testing.T) {
	var hits int64
	srv := newListingServer(t, &hits)
	defer srv.Close()

	c := New(Config{
		ListingURL:    srv.URL,
		SnapshotPath:  filepath.Join(t.TempDir(), "universe.json"),
		CacheDuration: time.Hour,
	}, xhttp.NewClient(), nil)

	ctx := context.Background()
	c.Current(ctx, false)
	c.Current(ctx, true)
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Fatalf("listing fetched %d times, want 2", got)
	}
}

func TestCurrentStaleFallbackOnFetchFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.json")
	stale := &models.UniverseSnapshot{
		Symbols:   []string{"AAPL", "MSFT"},
		FetchedAt: time.Now().Add(-30 * 24 * time.Hour).UTC(),
		Source:    "test",
	}
	b, _ := json.Marshal(stale)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{
		ListingURL:    srv.URL,
		SnapshotPath:  path,
		CacheDuration: time.Hour,
	}, xhttp.NewClient(), nil)

	snap, err := c.Current(context.Background(), false)
	if err != nil {
		t.Fatalf("stale snapshot should be served, got error %v", err)
	}
	if len(snap.Symbols) != 2 || snap.Source != "test" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestCurrentNoUniverseAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{
		ListingURL:    srv.URL,
		SnapshotPath:  filepath.Join(t.TempDir(), "universe.json"),
		CacheDuration: time.Hour,
	}, xhttp.NewClient(), nil)

	_, err := c.Current(context.Background(), false)
	if !errors.Is(err, ErrNoUniverseAvailable) {
		t.Fatalf("err = %v, want ErrNoUniverseAvailable", err)
	}
}

func TestSnapshotPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.json")
	srv := newListingServer(t, nil)

	c := New(Config{ListingURL: srv.URL, SnapshotPath: path, CacheDuration: time.Hour}, xhttp.NewClient(), nil)
	if _, err := c.Current(context.Background(), false); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	srv.Close()

	// A new instance must serve from disk without the listing source.
	c2 := New(Config{ListingURL: srv.URL, SnapshotPath: path, CacheDuration: time.Hour}, xhttp.NewClient(), nil)
	snap, err := c2.Current(context.Background(), false)
	if err != nil {
		t.Fatalf("disk snapshot not served: %v", err)
	}
	if len(snap.Symbols) != 3 {
		t.Fatalf("symbols = %v, want 3 entries", snap.Symbols)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"AAPL":       "AAPL",
		" brk.b ":    "BRK.B",
		"BF-B":       "BF-B",
		"":           "",
		"Apple Inc.": "",
	}
	for in, want := range cases {
		if got := normalizeSymbol(in); got != want {
			t.Fatalf("normalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
