// Package extract turns the captured detail-view markup into typed record metadata.
//
// Parsing works on static HTML so the rules can be exercised without a browser.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

// Selectors for the detail sidebar.
const (
	SidebarSelector      = `div[data-testid="PhotoSideBar-container"]`
	timestampSelector    = "h6.text-s1"
	locationSelector     = "p.text-overline.text-primary"
	weatherGridSelector  = `div[data-testid="WeatherInformationView-Button"]`
	weatherItemSelector  = "div.flex"
	weatherLabelSelector = "p.text-overline.text-white"
	weatherValueSelector = "p.text-overline.text-primary"
)

// Raw metadata keys.
const (
	RawTimestamp = "timestamp"
	RawLocation  = "location"
	RawWeather   = "weather"
)

// Parse reads the sidebar markup. A malformed reading is dropped and reported
// in Metadata.Dropped; only a missing container is an error.
func Parse(html string) (archive.Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return archive.Metadata{}, fmt.Errorf("%w: parse markup: %w", archive.ErrExtraction, err)
	}
	sidebar := doc.Find(SidebarSelector).First()
	if sidebar.Length() == 0 {
		return archive.Metadata{}, fmt.Errorf("%w: %s not found", archive.ErrExtraction, SidebarSelector)
	}

	meta := archive.Metadata{Raw: map[string]any{}}

	if ts := text(sidebar.Find(timestampSelector).First()); ts != "" {
		meta.Timestamp = ts
		meta.Raw[RawTimestamp] = ts
	}

	readLocations(sidebar, &meta)
	readWeather(sidebar, &meta)
	return meta, nil
}

func readLocations(sidebar *goquery.Selection, meta *archive.Metadata) {
	locations := sidebar.Find(locationSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest(weatherGridSelector).Length() == 0
	})
	raw := map[string]string{}
	if primary := text(locations.Eq(0)); primary != "" {
		meta.PrimaryLocation = &primary
		raw["primary"] = primary
	}
	if secondary := text(locations.Eq(1)); secondary != "" {
		meta.SecondaryLocation = &secondary
		raw["secondary"] = secondary
	}
	if len(raw) > 0 {
		meta.Raw[RawLocation] = raw
	}
}

func readWeather(sidebar *goquery.Selection, meta *archive.Metadata) {
	grid := sidebar.Find(weatherGridSelector).First()
	if grid.Length() == 0 {
		return
	}
	raw := map[string]string{}
	grid.Find(weatherItemSelector).Each(func(_ int, item *goquery.Selection) {
		label := text(item.Find(weatherLabelSelector).First())
		if label == "" {
			return
		}
		if _, done := raw[label]; done {
			return
		}
		valueSel := item.Find(weatherValueSelector).First()
		if valueSel.Length() == 0 {
			return
		}
		value := strings.TrimSpace(valueSel.Text())
		raw[label] = value
		if err := applyReading(&meta.Environment, label, value); err != nil {
			meta.Dropped = append(meta.Dropped, archive.DroppedField{
				Label:  label,
				Value:  value,
				Reason: err.Error(),
			})
		}
	})
	if len(raw) > 0 {
		meta.Raw[RawWeather] = raw
	}
}

func text(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(s.Text())
}
