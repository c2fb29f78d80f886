package reveal

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

// Page selectors.
const (
	emailInputSelector    = `input[data-testid="login-email-input"]`
	passwordInputSelector = `input[data-testid="login-password-input"]`
	signInButtonXPath     = `//button[contains(., "Sign In")]`
	closeDialogXPath      = `//button[contains(., "CLOSE")]`
	photoCardSelector     = `div[data-testid="PhotoRow-photo-card"]`
	detailPhotoSelector   = `img#single-photo`
	downloadButtonSelect  = `button#button-download_image`
)

// readPhotoJS returns [data-photo-id, src] of the detail image, or [] when absent.
const readPhotoJS = `(() => {
	const el = document.querySelector('img#single-photo');
	if (!el) { return []; }
	return [el.getAttribute('data-photo-id') || '', el.getAttribute('src') || ''];
})()`

// idFromSrc returns the file stem of an image URL:
// ".../8640-100-4-1205-V-W1018634.JPG?sig=x" -> "8640-100-4-1205-V-W1018634".
func idFromSrc(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		src = u.Path
	} else if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	name := path.Base(src)
	if name == "." || name == "/" {
		return ""
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}

// resolveID prefers the data attribute and falls back to the image file stem.
func resolveID(photo []string) (string, error) {
	if len(photo) < 2 {
		return "", fmt.Errorf("%w: detail image not present", archive.ErrNavigation)
	}
	if id := strings.TrimSpace(photo[0]); id != "" {
		return id, nil
	}
	if id := idFromSrc(photo[1]); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: detail image has no id", archive.ErrNavigation)
}

// settleOutcome classifies an advance whose settle window elapsed. The view
// still showing the previous record means there is no next one.
func settleOutcome(prev, current string, sidebarPresent bool) error {
	switch {
	case current != "" && current != prev:
		return nil
	case sidebarPresent && current == prev:
		return archive.ErrEndOfSequence
	default:
		return fmt.Errorf("%w: detail view did not settle after advance", archive.ErrNavigation)
	}
}
