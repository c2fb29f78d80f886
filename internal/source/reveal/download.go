package reveal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/cdproto/browser"
)

type downloadResult struct {
	guid     string
	filename string
	err      error
}

// downloadTracker turns browser download events into one result per expected
// download. An armed tracker claims the first download that begins after
// expect and delivers only that download's outcome. Downloads that begin
// while disarmed, or that were claimed by an arm that has since been
// disarmed, are stale: their files are removed when they finish. Listener
// callbacks never block.
type downloadTracker struct {
	dir string

	mu      sync.Mutex
	waiting chan downloadResult
	claimed string
	names   map[string]string
	stale   map[string]struct{}
}

func newDownloadTracker(dir string) *downloadTracker {
	return &downloadTracker{
		dir:   dir,
		names: make(map[string]string),
		stale: make(map[string]struct{}),
	}
}

// expect arms the tracker for the next download.
func (d *downloadTracker) expect() <-chan downloadResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waiting = make(chan downloadResult, 1)
	d.claimed = ""
	return d.waiting
}

// disarm stops waiting. A download claimed but not yet finished becomes stale
// and whatever it has written so far is removed.
func (d *downloadTracker) disarm() {
	d.mu.Lock()
	guid := d.claimed
	if guid != "" {
		d.stale[guid] = struct{}{}
		delete(d.names, guid)
	}
	d.waiting = nil
	d.claimed = ""
	d.mu.Unlock()

	if guid != "" {
		d.discard(guid)
	}
}

func (d *downloadTracker) handle(ev any) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		d.begin(e.GUID, e.SuggestedFilename)
	case *browser.EventDownloadProgress:
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			d.finish(downloadResult{guid: e.GUID})
		case browser.DownloadProgressStateCanceled:
			d.finish(downloadResult{guid: e.GUID, err: fmt.Errorf("download %s canceled by browser", e.GUID)})
		}
	}
}

func (d *downloadTracker) begin(guid, filename string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiting != nil && d.claimed == "" {
		d.claimed = guid
		d.names[guid] = filename
		return
	}
	d.stale[guid] = struct{}{}
}

func (d *downloadTracker) finish(res downloadResult) {
	d.mu.Lock()
	if d.waiting == nil || res.guid != d.claimed {
		delete(d.stale, res.guid)
		d.mu.Unlock()
		d.discard(res.guid)
		return
	}
	res.filename = d.names[res.guid]
	delete(d.names, res.guid)
	select {
	case d.waiting <- res:
	default:
	}
	d.waiting = nil
	d.claimed = ""
	d.mu.Unlock()
}

func (d *downloadTracker) discard(guid string) {
	if d.dir == "" || guid == "" {
		return
	}
	_ = os.Remove(filepath.Join(d.dir, filepath.Base(guid)))
}
