package reconcile

import (
	"strings"

	"github.com/park285/cheese-observer/internal/domain"
)

// PageDetector reads page facts the DOM probe can see next to the board.
type PageDetector interface {
	DetectMode() domain.Mode
	DetectColor() domain.Color
	ReadClocks() (white, black *int)
}

// FromDOM builds a DOM update for one observation tick.
func FromDOM(position string, page PageDetector) domain.PartialUpdate {
	u := domain.PartialUpdate{Source: domain.SourceDOM, Position: strings.TrimSpace(position)}
	if page == nil {
		return u
	}
	u.Mode = page.DetectMode()
	u.YourColor = page.DetectColor()
	u.WhiteTime, u.BlackTime = page.ReadClocks()
	return u
}

// StaticPage is a PageDetector with fixed answers.
type StaticPage struct {
	Mode      domain.Mode
	Color     domain.Color
	WhiteTime *int
	BlackTime *int
}

func (p StaticPage) DetectMode() domain.Mode   { return p.Mode }
func (p StaticPage) DetectColor() domain.Color { return p.Color }
func (p StaticPage) ReadClocks() (*int, *int) {
	return domain.CopyClock(p.WhiteTime), domain.CopyClock(p.BlackTime)
}
