// Package window derives the render, safety and background index ranges from
// the anchor.
package window

import (
	"io"
	"log/slog"
	"sync"

	"github.com/hupe1980/rollwin/core"
)

const (
	// CellBudget bounds rows × columns of the render range.
	CellBudget = 360
	// MaxRenderRows caps the render range height.
	MaxRenderRows = 120
	// DefaultShift moves the render range toward the scroll direction.
	DefaultShift = 20
	// DefaultEdgeIndex disables backward padding for anchors below it.
	DefaultEdgeIndex = 200
)

// Pad is the padding one tier adds around its inner range. Which field applies
// depends on the scroll direction.
type Pad struct {
	// BeforeBackward pads toward index 0 while scrolling backward.
	BeforeBackward int
	// BeforeForward pads toward index 0 while scrolling forward (or idle).
	BeforeForward int
	// AfterForward pads toward the end while scrolling forward (or idle).
	AfterForward int
	// AfterBackward pads toward the end while scrolling backward.
	AfterBackward int
}

func (p Pad) around(inner core.Range, dir, total int) core.Range {
	before, after := p.BeforeForward, p.AfterForward
	if dir < 0 {
		before, after = p.BeforeBackward, p.AfterBackward
	}
	return core.R(inner.Start-before, inner.End+after).Clamp(total)
}

// Margins configures the planner for one device class.
type Margins struct {
	Safety     Pad
	Background Pad
	// Shift is how far the render range leads in the scroll direction.
	Shift int
	// EdgeIndex suppresses backward padding for anchors below it.
	EdgeIndex int
}

// DefaultMargins returns the tuned paddings for a device class.
func DefaultMargins(d core.DeviceClass) Margins {
	if d == core.Mobile {
		return Margins{
			Safety:     Pad{BeforeBackward: 400, BeforeForward: 200, AfterForward: 400, AfterBackward: 250},
			Background: Pad{BeforeBackward: 300, BeforeForward: 150, AfterForward: 700, AfterBackward: 400},
			Shift:      DefaultShift,
			EdgeIndex:  DefaultEdgeIndex,
		}
	}
	return Margins{
		Safety:     Pad{BeforeBackward: 300, BeforeForward: 150, AfterForward: 400, AfterBackward: 250},
		Background: Pad{BeforeBackward: 500, BeforeForward: 250, AfterForward: 900, AfterBackward: 450},
		Shift:      DefaultShift,
		EdgeIndex:  DefaultEdgeIndex,
	}
}

// Windows is the planned range triple.
type Windows struct {
	Render     core.Range
	Safety     core.Range
	Background core.Range
}

// Input is everything Plan depends on.
type Input struct {
	Stepped  int
	Total    int
	Device   core.DeviceClass
	Velocity float64
	Columns  int
	// Margins overrides DefaultMargins(Device) when set.
	Margins *Margins
}

// RenderRows returns the render height for a column count: the rows that fit
// the cell budget, rounded down to a multiple of 10 and capped.
//
//	≤3 columns → 120, 4 → 90, 5 → 70
func RenderRows(columns int) int {
	if columns < 1 {
		columns = 1
	}
	rows := (CellBudget / columns) / 10 * 10
	return max(10, min(MaxRenderRows, rows))
}

// Plan computes the windows for in. It is pure and total: every returned range
// is clamped to [0, Total-1], and all three are empty when Total <= 0.
func Plan(in Input) Windows {
	if in.Total <= 0 {
		return Windows{Render: core.EmptyRange, Safety: core.EmptyRange, Background: core.EmptyRange}
	}

	m := DefaultMargins(in.Device)
	if in.Margins != nil {
		m = *in.Margins
	}

	dir := core.Direction(in.Velocity)
	c := core.Clamp(in.Stepped, 0, in.Total-1)
	half := RenderRows(in.Columns) / 2
	shift := m.Shift * dir

	render := core.R(c-half+shift, c+half+shift).Clamp(in.Total)
	if !render.Valid() {
		// The shift pushed the range past an edge; fall back to the anchor row.
		render = core.R(c, c)
	}

	safety := m.Safety.around(render, dir, in.Total)
	if c < m.EdgeIndex {
		safety.Start = render.Start
	}

	background := m.Background.around(safety, dir, in.Total)
	if c < m.EdgeIndex {
		background.Start = safety.Start
	}

	return Windows{Render: render, Safety: safety, Background: background}
}

// Planner memoizes Plan on the six window bounds.
type Planner struct {
	mu     sync.Mutex
	last   Windows
	have   bool
	logger *slog.Logger
}

// NewPlanner creates a Planner. A nil logger discards output.
func NewPlanner(logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Planner{logger: logger}
}

// Plan returns the windows for in and whether they differ from the previous call.
func (p *Planner) Plan(in Input) (Windows, bool) {
	w := Plan(in)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.have && w == p.last {
		return p.last, false
	}
	p.last, p.have = w, true

	p.logger.Debug("planned windows",
		"stepped", in.Stepped,
		"device", in.Device.String(),
		"columns", in.Columns,
		"render", w.Render.String(),
		"safety", w.Safety.String(),
		"background", w.Background.String())

	return w, true
}

// Last returns the most recent windows, if any.
func (p *Planner) Last() (Windows, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.have
}

// Reset forgets the memoized windows so the next Plan reports a change.
func (p *Planner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.have = false
}
