// Package fake is a scripted, in-memory record source used by pipeline tests
// and dry runs. It behaves like the browser session: a cursor over a
// newest-first sequence, markup-based extraction and file-based downloads.
package fake

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
	"github.com/JakeFAU/trailcam-archiver/internal/extract"
	"github.com/JakeFAU/trailcam-archiver/internal/staging"
)

// Reading is one labelled weather value in the sidebar.
type Reading struct {
	Label string
	Value string
}

// DefaultReadings is a complete, well-formed weather grid.
var DefaultReadings = []Reading{
	{Label: "TEMP", Value: "45°F"},
	{Label: "WIND", Value: "NW 5 mph"},
	{Label: "PRESSURE", Value: "30.12 inHg"},
	{Label: "SUN", Value: "Sunrise"},
	{Label: "MOON", Value: "Waning Gibbous"},
}

// Item is one upstream record.
type Item struct {
	ID string
	// HTML is the sidebar markup. Empty means Sidebar with DefaultReadings.
	HTML string
	// Payload is the downloadable body. Nil means a unique JPEG for ID.
	Payload []byte

	IDErr      error
	ExtractErr error
	FetchErr   error
}

// Source walks a fixed list of items.
type Source struct {
	mu     sync.Mutex
	items  []Item
	pos    int
	dir    string
	limits staging.Limits

	advanceFaults map[int]int
	downloads     int
	closed        bool

	extracted []string
	fetched   []string
	snapshots []string
	advances  int
}

// New returns a Source writing downloads into dir. Items are ordered
// newest-first.
func New(dir string, items ...Item) *Source {
	return &Source{
		items:         items,
		pos:           -1,
		dir:           dir,
		advanceFaults: map[int]int{},
	}
}

// WithLimits overrides the payload validation limits.
func (s *Source) WithLimits(l staging.Limits) *Source {
	s.limits = l
	return s
}

// FailAdvance makes the next n advances away from position pos fail with
// archive.ErrNavigation.
func (s *Source) FailAdvance(pos, n int) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceFaults[pos] = n
	return s
}

// Enter focuses the newest item.
func (s *Source) Enter(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: source closed", archive.ErrNavigation)
	}
	if len(s.items) == 0 {
		return fmt.Errorf("%w: no records", archive.ErrNavigation)
	}
	s.pos = 0
	return nil
}

// Advance moves to the next older item.
func (s *Source) Advance(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", archive.ErrNavigation, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < 0 {
		return fmt.Errorf("%w: detail view not open", archive.ErrNavigation)
	}
	if n := s.advanceFaults[s.pos]; n > 0 {
		s.advanceFaults[s.pos] = n - 1
		return fmt.Errorf("%w: next control did not respond", archive.ErrNavigation)
	}
	if s.pos+1 >= len(s.items) {
		return archive.ErrEndOfSequence
	}
	s.pos++
	s.advances++
	return nil
}

// CurrentID returns the focused item's id.
func (s *Source) CurrentID(context.Context) (string, error) {
	item, err := s.current()
	if err != nil {
		return "", err
	}
	if item.IDErr != nil {
		return "", item.IDErr
	}
	return item.ID, nil
}

// Extract parses the focused item's sidebar.
func (s *Source) Extract(context.Context) (archive.Metadata, error) {
	item, err := s.current()
	if err != nil {
		return archive.Metadata{}, err
	}
	s.mu.Lock()
	s.extracted = append(s.extracted, item.ID)
	s.mu.Unlock()
	if item.ExtractErr != nil {
		return archive.Metadata{}, item.ExtractErr
	}
	markup := item.HTML
	if markup == "" {
		markup = Sidebar("October 3, 2024 6:42 AM", "FEEDERS", DefaultReadings...)
	}
	return extract.Parse(markup)
}

// Fetch writes the focused item's payload into the download directory and
// validates it.
func (s *Source) Fetch(_ context.Context, externalID string) (archive.Payload, error) {
	item, err := s.current()
	if err != nil {
		return archive.Payload{}, err
	}
	if item.ID != externalID {
		return archive.Payload{}, fmt.Errorf("%w: cursor is on %s, not %s", archive.ErrDownload, item.ID, externalID)
	}
	s.mu.Lock()
	s.fetched = append(s.fetched, item.ID)
	s.downloads++
	n := s.downloads
	s.mu.Unlock()
	if item.FetchErr != nil {
		return archive.Payload{}, item.FetchErr
	}

	data := item.Payload
	if data == nil {
		data = JPEG(item.ID, 4096)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return archive.Payload{}, fmt.Errorf("%w: create download dir: %w", archive.ErrDownload, err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("download-%04d", n))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return archive.Payload{}, fmt.Errorf("%w: write download: %w", archive.ErrDownload, err)
	}
	payload, err := s.limits.Inspect(path)
	if err != nil {
		_ = os.Remove(path)
		return archive.Payload{}, err
	}
	return payload, nil
}

// Snapshot records the label of a debug capture request.
func (s *Source) Snapshot(_ context.Context, label string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, label)
	return "", nil
}

// Close marks the source closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Extracted lists the ids Extract was called for, in order.
func (s *Source) Extracted() []string { return s.copyOf(&s.extracted) }

// Fetched lists the ids Fetch was called for, in order.
func (s *Source) Fetched() []string { return s.copyOf(&s.fetched) }

// Snapshots lists debug capture labels, in order.
func (s *Source) Snapshots() []string { return s.copyOf(&s.snapshots) }

// Advances counts successful cursor moves.
func (s *Source) Advances() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advances
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Source) copyOf(list *[]string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), (*list)...)
}

func (s *Source) current() (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < 0 || s.pos >= len(s.items) {
		return Item{}, fmt.Errorf("%w: detail view not open", archive.ErrNavigation)
	}
	return s.items[s.pos], nil
}

// JPEG returns a size-byte body that sniffs as image/jpeg and is unique per seed.
func JPEG(seed string, size int) []byte {
	head := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte(seed)...)
	if size <= len(head) {
		return head[:size]
	}
	return append(head, bytes.Repeat([]byte{0x00}, size-len(head))...)
}

// Sidebar renders detail-view sidebar markup.
func Sidebar(timestamp, location string, readings ...Reading) string {
	var b strings.Builder
	b.WriteString(`<div data-testid="PhotoSideBar-container"><div>`)
	if timestamp != "" {
		fmt.Fprintf(&b, `<h6 class="text-s1">%s</h6>`, html.EscapeString(timestamp))
	}
	if location != "" {
		fmt.Fprintf(&b, `<p class="text-overline text-primary">%s</p>`, html.EscapeString(location))
	}
	b.WriteString(`</div>`)
	if len(readings) > 0 {
		b.WriteString(`<div data-testid="WeatherInformationView-Button">`)
		for _, r := range readings {
			fmt.Fprintf(&b,
				`<div class="flex"><p class="text-overline text-white">%s</p><p class="text-overline text-primary">%s</p></div>`,
				html.EscapeString(r.Label), html.EscapeString(r.Value))
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// Demo returns n synthetic items, newest first, with ids demo-<n> .. demo-1
// captured an hour apart.
func Demo(n int) []Item {
	newest := time.Date(2024, time.October, 28, 18, 0, 0, 0, time.UTC)
	items := make([]Item, 0, n)
	for i := n; i >= 1; i-- {
		captured := newest.Add(-time.Duration(n-i) * time.Hour)
		items = append(items, Item{
			ID:   fmt.Sprintf("demo-%d", i),
			HTML: Sidebar(captured.Format("January 2, 2006 3:04 PM"), "DEMO", DefaultReadings...),
		})
	}
	return items
}
