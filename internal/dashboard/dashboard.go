// Package dashboard renders the vehicle snapshot as pages of a two-line
// character display and handles page navigation.
package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"vdu/internal/lcd"
	"vdu/internal/model"
)

// Page identifies one dashboard screen.
type Page int

const (
	PageSpeed Page = iota
	PageEngine
	PageFuel
	PageTrip
	PageCompact
	pageCount
)

var pageNames = [pageCount]string{"speed", "engine", "fuel", "trip", "compact"}

func (p Page) String() string {
	if p < 0 || p >= pageCount {
		return fmt.Sprintf("page(%d)", int(p))
	}
	return pageNames[p]
}

// ParsePage accepts a page name, case-insensitively.
func ParsePage(s string) (Page, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range pageNames {
		if n == s {
			return Page(i), true
		}
	}
	return 0, false
}

// Dashboard holds the current page. Navigation may come from the button,
// the console and the web API concurrently.
type Dashboard struct {
	mu   sync.Mutex
	page Page
}

// New starts on the speed page.
func New() *Dashboard { return &Dashboard{page: PageSpeed} }

func (d *Dashboard) Page() Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page
}

func (d *Dashboard) SetPage(p Page) {
	if p < 0 || p >= pageCount {
		p = PageSpeed
	}
	d.mu.Lock()
	d.page = p
	d.mu.Unlock()
}

// Next advances cyclically and returns the new page.
func (d *Dashboard) Next() Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.page = (d.page + 1) % pageCount
	return d.page
}

// Prev steps back cyclically and returns the new page.
func (d *Dashboard) Prev() Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.page = (d.page + pageCount - 1) % pageCount
	return d.page
}

// Render formats the current page.
func (d *Dashboard) Render(s model.Snapshot) [2]string {
	return RenderPage(d.Page(), s)
}

// Show renders the current page onto disp.
func (d *Dashboard) Show(disp lcd.Display, s model.Snapshot) error {
	lines := d.Render(s)
	return lcd.WriteLines(disp, lines[:]...)
}

// RenderPage formats page p. Unknown pages render as the speed page.
func RenderPage(p Page, s model.Snapshot) [2]string {
	t := s.Telemetry
	switch p {
	case PageEngine:
		return [2]string{
			fmt.Sprintf("RPM: %4d", t.RPM),
			fmt.Sprintf("TEMP: %2d°C", t.Temperature),
		}
	case PageFuel:
		return [2]string{
			fmt.Sprintf("FUEL: %2d%%", t.FuelLevel),
			fmt.Sprintf("RANGE: %3d KM", s.FuelRange),
		}
	case PageTrip:
		secs := int(s.TripTime / time.Second)
		return [2]string{
			fmt.Sprintf("TRIP: %05.1f KM", s.Trip),
			fmt.Sprintf("TIME: %02d:%02d", secs/60, secs%60),
		}
	case PageCompact:
		return [2]string{
			fmt.Sprintf("SPD:%3d FUEL:%2d%%", t.Speed, t.FuelLevel),
			fmt.Sprintf("ODO:%06.0f %2d°C", s.Odometer, t.Temperature),
		}
	default:
		return [2]string{
			fmt.Sprintf("SPD:%3d KMPH", t.Speed),
			fmt.Sprintf("ODO:%08.1f KM", s.Odometer),
		}
	}
}
