// Package reveal drives the upstream camera portal in a Chrome session.
//
// A Session logs in once, opens the newest photo's detail view and then walks
// older photos with the right-arrow key. It implements archive.Source.
package reveal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
	"github.com/JakeFAU/trailcam-archiver/internal/credentials"
	"github.com/JakeFAU/trailcam-archiver/internal/extract"
	"github.com/JakeFAU/trailcam-archiver/internal/staging"
)

// Session is a logged-in browser tab.
type Session struct {
	cfg     Config
	stage   *staging.Dir
	limiter *rate.Limiter
	tracker *downloadTracker
	logger  *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// New starts Chrome, routes downloads into the staging area and logs in.
func New(ctx context.Context, cfg Config, creds credentials.Provider, stage *staging.Dir, logger *zap.Logger) (*Session, error) {
	if creds == nil || stage == nil {
		return nil, fmt.Errorf("reveal session requires credentials and a staging directory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	s := &Session{
		cfg:         cfg,
		stage:       stage,
		limiter:     rate.NewLimiter(limit, 1),
		tracker:     newDownloadTracker(stage.Downloads()),
		logger:      logger.Named("reveal"),
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	chromedp.ListenTarget(tabCtx, s.tracker.handle)

	err := s.run(ctx, cfg.NavigationTimeout,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(stage.Downloads()).
			WithEventsEnabled(true),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if err := s.login(ctx, creds); err != nil {
		if path, snapErr := s.Snapshot(ctx, "login_error"); snapErr == nil {
			s.logger.Warn("login failed", zap.String("screenshot", path), zap.Error(err))
		}
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close shuts the tab and the browser.
func (s *Session) Close() error {
	s.tabCancel()
	s.allocCancel()
	return nil
}

func (s *Session) login(ctx context.Context, provider credentials.Provider) error {
	creds, err := provider.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	s.logger.Info("logging in", zap.String("url", s.cfg.LoginURL), zap.String("username", creds.Username))

	err = s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(s.cfg.LoginURL),
		chromedp.WaitVisible(emailInputSelector, chromedp.ByQuery),
		chromedp.SendKeys(emailInputSelector, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(passwordInputSelector, creds.Password, chromedp.ByQuery),
		chromedp.Click(signInButtonXPath, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	s.dismissDialog(ctx)

	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.WaitVisible(photoCardSelector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for gallery after login: %w", err)
	}
	s.logger.Info("logged in")
	return nil
}

// dismissDialog closes the rewards dialog shown after some logins.
func (s *Session) dismissDialog(ctx context.Context) {
	deadline := time.Now().Add(s.cfg.DialogWait)
	for time.Now().Before(deadline) {
		var nodes []*cdp.Node
		if err := s.run(ctx, s.cfg.PollInterval*4,
			chromedp.Nodes(closeDialogXPath, &nodes, chromedp.BySearch, chromedp.AtLeast(0)),
		); err == nil && len(nodes) > 0 {
			if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.MouseClickNode(nodes[0])); err != nil {
				s.logger.Debug("close dialog click failed", zap.Error(err))
			} else {
				s.logger.Info("dismissed post-login dialog")
			}
			return
		}
		if !sleep(ctx, s.cfg.PollInterval) {
			return
		}
	}
}

// Enter opens the newest photo.
func (s *Session) Enter(ctx context.Context) error {
	var cards []*cdp.Node
	if err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Nodes(photoCardSelector, &cards, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return fmt.Errorf("%w: list photo cards: %w", archive.ErrNavigation, err)
	}
	if len(cards) == 0 {
		return fmt.Errorf("%w: no photo cards", archive.ErrNavigation)
	}
	s.logger.Info("opening newest photo", zap.Int("cards", len(cards)))
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.MouseClickNode(cards[0]),
		chromedp.WaitVisible(extract.SidebarSelector, chromedp.ByQuery),
		chromedp.WaitReady(detailPhotoSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("%w: open detail view: %w", archive.ErrNavigation, err)
	}
	return nil
}

// CurrentID reads the id of the photo in the detail view.
func (s *Session) CurrentID(ctx context.Context) (string, error) {
	var photo []string
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Evaluate(readPhotoJS, &photo)); err != nil {
		return "", fmt.Errorf("%w: read detail image: %w", archive.ErrNavigation, err)
	}
	return resolveID(photo)
}

// Advance presses the right arrow and waits for a different photo.
func (s *Session) Advance(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: pace advance: %w", archive.ErrNavigation, err)
	}
	prev, err := s.CurrentID(ctx)
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.KeyEvent(kb.ArrowRight)); err != nil {
		return fmt.Errorf("%w: send next key: %w", archive.ErrNavigation, err)
	}

	current := prev
	deadline := time.Now().Add(s.cfg.SettleTimeout)
	for time.Now().Before(deadline) {
		if !sleep(ctx, s.cfg.PollInterval) {
			return fmt.Errorf("%w: %w", archive.ErrNavigation, ctx.Err())
		}
		id, err := s.CurrentID(ctx)
		if err != nil {
			continue
		}
		current = id
		if current != prev {
			break
		}
	}

	if current != prev {
		if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.WaitVisible(extract.SidebarSelector, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("%w: sidebar after advance: %w", archive.ErrNavigation, err)
		}
		return nil
	}
	return settleOutcome(prev, current, s.sidebarPresent(ctx))
}

func (s *Session) sidebarPresent(ctx context.Context) bool {
	var nodes []*cdp.Node
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Nodes(extract.SidebarSelector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)),
	)
	return err == nil && len(nodes) > 0
}

// Extract captures the sidebar markup and parses it.
func (s *Session) Extract(ctx context.Context) (archive.Metadata, error) {
	var markup string
	if err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.OuterHTML(extract.SidebarSelector, &markup, chromedp.ByQuery),
	); err != nil {
		return archive.Metadata{}, fmt.Errorf("%w: capture sidebar: %w", archive.ErrExtraction, err)
	}
	return extract.Parse(markup)
}

// Fetch clicks the download control and waits for the browser to finish.
func (s *Session) Fetch(ctx context.Context, externalID string) (archive.Payload, error) {
	var buttons []*cdp.Node
	if err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Nodes(downloadButtonSelect, &buttons, chromedp.ByQuery, chromedp.AtLeast(0)),
	); err != nil {
		return archive.Payload{}, fmt.Errorf("%w: find download control: %w", archive.ErrDownload, err)
	}
	if len(buttons) == 0 {
		return archive.Payload{}, fmt.Errorf("%w: download control not found", archive.ErrDownload)
	}

	done := s.tracker.expect()
	defer s.tracker.disarm()
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.MouseClickNode(buttons[0])); err != nil {
		return archive.Payload{}, fmt.Errorf("%w: click download: %w", archive.ErrDownload, err)
	}

	timer := time.NewTimer(s.cfg.DownloadTimeout)
	defer timer.Stop()
	var res downloadResult
	select {
	case res = <-done:
	case <-timer.C:
		return archive.Payload{}, fmt.Errorf("%w: no download within %s", archive.ErrDownload, s.cfg.DownloadTimeout)
	case <-ctx.Done():
		return archive.Payload{}, fmt.Errorf("%w: %w", archive.ErrDownload, ctx.Err())
	}
	if res.err != nil {
		return archive.Payload{}, fmt.Errorf("%w: %w", archive.ErrDownload, res.err)
	}

	path := filepath.Join(s.stage.Downloads(), res.guid)
	payload, err := s.cfg.Limits.Inspect(path)
	if err != nil {
		_ = os.Remove(path)
		return archive.Payload{}, err
	}
	s.logger.Debug("download complete",
		zap.String("external_id", externalID),
		zap.String("suggested_name", res.filename),
		zap.Int64("bytes", payload.Size),
	)
	return payload, nil
}

// Snapshot writes a full-page PNG into the screenshots directory.
func (s *Session) Snapshot(ctx context.Context, label string) (string, error) {
	var buf []byte
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	path := s.stage.NextScreenshotPath(label)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// run executes actions on the tab with a timeout, honoring ctx cancellation
// without tearing the tab down.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return err
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ archive.Source = (*Session)(nil)
