package universe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"IndexPull/internal/domain/models"
	xhttp "IndexPull/pkg/http"
	applogger "IndexPull/pkg/logger"
)

// ErrNoUniverseAvailable means neither a cached snapshot nor a fresh
// listing could be obtained. Fatal to a selection run.
var ErrNoUniverseAvailable = errors.New("no universe snapshot available")

const defaultListingURL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"

// Config controls the listing source and snapshot persistence.
type Config struct {
	ListingURL    string
	SnapshotPath  string
	CacheDuration time.Duration
}

// Cache supplies the current symbol universe. A snapshot fresher than
// CacheDuration is served without a network call; otherwise a refresh
// is attempted, falling back to the stale snapshot when the listing
// source is unreachable. Refresh is serialized; reads are lock-free on
// the snapshot pointer.
type Cache struct {
	cfg    Config
	client *xhttp.Client
	logger *applogger.Logger

	refreshMu sync.Mutex
	snapMu    sync.RWMutex
	snapshot  *models.UniverseSnapshot
}

// New creates the universe cache and loads any persisted snapshot.
func New(cfg Config, client *xhttp.Client, logger *applogger.Logger) *Cache {
	if cfg.ListingURL == "" {
		cfg.ListingURL = defaultListingURL
	}
	c := &Cache{cfg: cfg, client: client, logger: logger}
	if snap, err := c.loadSnapshot(); err == nil {
		c.snapshot = snap
	} else if !os.IsNotExist(err) && logger != nil {
		logger.Warn("universe snapshot unreadable",
			applogger.String("path", cfg.SnapshotPath),
			applogger.Error(err),
		)
	}
	return c
}

// Current returns the universe snapshot, refreshing when stale or when
// force is set. A failed refresh falls back to the stale snapshot; only
// when no snapshot exists at all does it return ErrNoUniverseAvailable.
func (c *Cache) Current(ctx context.Context, force bool) (*models.UniverseSnapshot, error) {
	if !force {
		if snap := c.current(); snap != nil && c.fresh(snap) {
			return snap, nil
		}
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if !force {
		if snap := c.current(); snap != nil && c.fresh(snap) {
			return snap, nil
		}
	}

	snap, err := c.fetchListing(ctx)
	if err != nil {
		stale := c.current()
		if stale == nil {
			return nil, fmt.Errorf("%w: %v", ErrNoUniverseAvailable, err)
		}
		if c.logger != nil {
			c.logger.Warn("universe refresh failed, serving stale snapshot",
				applogger.String("fetched_at", stale.FetchedAt.UTC().Format(time.RFC3339)),
				applogger.Error(err),
			)
		}
		return stale, nil
	}

	if err := c.storeSnapshot(snap); err != nil && c.logger != nil {
		c.logger.Warn("universe snapshot not persisted",
			applogger.String("path", c.cfg.SnapshotPath),
			applogger.Error(err),
		)
	}

	c.snapMu.Lock()
	c.snapshot = snap
	c.snapMu.Unlock()

	if c.logger != nil {
		c.logger.Info("universe refreshed",
			applogger.Int("symbols", len(snap.Symbols)),
			applogger.String("source", snap.Source),
		)
	}
	return snap, nil
}

func (c *Cache) current() *models.UniverseSnapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot
}

func (c *Cache) fresh(snap *models.UniverseSnapshot) bool {
	return time.Since(snap.FetchedAt) < c.cfg.CacheDuration
}

func (c *Cache) fetchListing(ctx context.Context) (*models.UniverseSnapshot, error) {
	resp, err := c.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.cfg.ListingURL,
		Headers: map[string]string{"Accept": "text/html"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch listing: unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	symbols, names := parseConstituents(doc)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("parse listing: no constituent rows found")
	}
	sort.Strings(symbols)

	return &models.UniverseSnapshot{
		Symbols:   symbols,
		Names:     names,
		FetchedAt: time.Now().UTC(),
		Source:    c.cfg.ListingURL,
	}, nil
}

// parseConstituents walks the first wikitable and reads the symbol and
// company name from each row's first two cells. Duplicates are dropped.
func parseConstituents(doc *html.Node) ([]string, map[string]string) {
	table := findFirstTable(doc)
	if table == nil {
		return nil, nil
	}

	var symbols []string
	names := make(map[string]string)
	seen := make(map[string]bool)

	var walkRows func(*html.Node)
	walkRows = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			cells := rowCells(n)
			if len(cells) >= 2 {
				symbol := normalizeSymbol(cells[0])
				if symbol != "" && !seen[symbol] {
					seen[symbol] = true
					symbols = append(symbols, symbol)
					names[symbol] = cells[1]
				}
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walkRows(child)
		}
	}
	walkRows(table)
	return symbols, names
}

func findFirstTable(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "table" {
		for _, attr := range n.Attr {
			if attr.Key == "class" && strings.Contains(attr.Val, "wikitable") {
				return n
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if t := findFirstTable(child); t != nil {
			return t
		}
	}
	return nil
}

// rowCells returns the trimmed text of each td in a row. Header rows
// (th cells) yield nothing and are skipped by the caller.
func rowCells(tr *html.Node) []string {
	var cells []string
	for cell := tr.FirstChild; cell != nil; cell = cell.NextSibling {
		if cell.Type == html.ElementNode && cell.Data == "td" {
			cells = append(cells, strings.TrimSpace(nodeText(cell)))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		sb.WriteString(nodeText(child))
	}
	return sb.String()
}

// normalizeSymbol uppercases and rejects anything that is not a plain
// ticker. Listing tickers with share-class dots (BRK.B) keep the dot.
func normalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || len(s) > 10 {
		return ""
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return ""
		}
	}
	return s
}

func (c *Cache) loadSnapshot() (*models.UniverseSnapshot, error) {
	if c.cfg.SnapshotPath == "" {
		return nil, os.ErrNotExist
	}
	b, err := os.ReadFile(c.cfg.SnapshotPath)
	if err != nil {
		return nil, err
	}
	var snap models.UniverseSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(snap.Symbols) == 0 {
		return nil, fmt.Errorf("decode snapshot: empty symbol list")
	}
	return &snap, nil
}

// storeSnapshot writes atomically via rename so a crashed write never
// leaves a torn snapshot behind.
func (c *Cache) storeSnapshot(snap *models.UniverseSnapshot) error {
	if c.cfg.SnapshotPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.cfg.SnapshotPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := c.cfg.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, c.cfg.SnapshotPath); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
