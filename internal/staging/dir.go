// Package staging manages the local working area for downloads and debug screenshots.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	downloadsDir   = "downloads"
	screenshotsDir = "screenshots"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Dir is a staging root holding a downloads and a screenshots directory.
type Dir struct {
	root string

	mu    sync.Mutex
	shots int
}

// New creates the staging layout under root.
func New(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("staging directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve staging directory: %w", err)
	}
	d := &Dir{root: abs}
	if err := d.ensure(); err != nil {
		return nil, err
	}
	return d, nil
}

// Root returns the absolute staging root.
func (d *Dir) Root() string { return d.root }

// Downloads is where the browser writes payloads.
func (d *Dir) Downloads() string { return filepath.Join(d.root, downloadsDir) }

// Screenshots is where debug captures are written.
func (d *Dir) Screenshots() string { return filepath.Join(d.root, screenshotsDir) }

// Reset empties both directories and restarts screenshot numbering.
func (d *Dir) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range []string{d.Downloads(), d.Screenshots()} {
		if err := os.RemoveAll(sub); err != nil {
			return fmt.Errorf("clear %s: %w", sub, err)
		}
	}
	d.shots = 0
	return d.ensure()
}

// NextScreenshotPath returns a sequentially numbered path for label.
func (d *Dir) NextScreenshotPath(label string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots++
	name := unsafeName.ReplaceAllString(label, "_")
	if name == "" {
		name = "capture"
	}
	return filepath.Join(d.Screenshots(), fmt.Sprintf("%04d_%s.png", d.shots, name))
}

func (d *Dir) ensure() error {
	for _, sub := range []string{d.Downloads(), d.Screenshots()} {
		if err := os.MkdirAll(sub, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return nil
}
