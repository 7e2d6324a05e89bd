package rollwin

import (
	"time"

	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/internal/anchor"
	"github.com/hupe1980/rollwin/internal/cache"
	"github.com/hupe1980/rollwin/internal/loader"
	"github.com/hupe1980/rollwin/internal/prefetch"
	"github.com/hupe1980/rollwin/internal/window"
)

// Margins configures the window paddings of one device class.
type Margins = window.Margins

// Pad is the padding one window tier adds around its inner range.
type Pad = window.Pad

// DefaultMargins returns the tuned paddings for a device class.
func DefaultMargins(d core.DeviceClass) Margins { return window.DefaultMargins(d) }

// Profile holds every tunable of an Engine. Start from DesktopProfile or
// MobileProfile and override fields as needed.
type Profile struct {
	Device core.DeviceClass

	// RowHeight is the height of one row in scroll units.
	RowHeight float64
	// Columns is the number of items per row; it sizes the render range.
	Columns int
	// Stride quantizes the anchor so small scrolls do not replan.
	Stride int

	// VelocityThreshold is the |rows/s| above which a velocity is held.
	VelocityThreshold float64
	// Hold keeps a fast velocity alive between flicks.
	Hold time.Duration
	// MinVelocityChange suppresses smaller velocity updates.
	MinVelocityChange float64
	// ScrollThrottle drops scroll samples closer than this. Zero keeps all.
	ScrollThrottle time.Duration
	// FrameInterval is the Run frame tick.
	FrameInterval time.Duration

	Margins Margins

	// RunwayLength and RunwayThreshold configure the velocity runway.
	RunwayLength    int
	RunwayThreshold float64
	// RefillSlab and RefillFactor configure the proximity refill.
	RefillSlab   int
	RefillFactor float64

	// HighWater is the cache size that triggers eviction; Target is where it stops.
	HighWater int
	Target    int
	// TTL marks entries older than this as expired candidates.
	TTL time.Duration
	// EvictionDelay is the idle time before a scheduled eviction pass runs.
	EvictionDelay time.Duration

	// MinBatch expands short merged ranges. Zero disables expansion.
	MinBatch int
	// ChunkSize bounds one record-store call.
	ChunkSize int

	MaxHighFetches  int64
	MaxTotalFetches int64
	PumpInterval    time.Duration
	LowDebounce     time.Duration
}

// DesktopProfile returns the defaults for fine-pointer devices.
func DesktopProfile() Profile {
	return Profile{
		Device:            core.Desktop,
		RowHeight:         40,
		Columns:           1,
		Stride:            anchor.DefaultStride,
		VelocityThreshold: anchor.DefaultThreshold,
		Hold:              anchor.DefaultHold,
		MinVelocityChange: anchor.DefaultMinVelocityChange,
		ScrollThrottle:    150 * time.Millisecond,
		FrameInterval:     16 * time.Millisecond,
		Margins:           window.DefaultMargins(core.Desktop),
		RunwayLength:      prefetch.DefaultRunwayLength,
		RunwayThreshold:   prefetch.DefaultRunwayThreshold,
		RefillSlab:        prefetch.DefaultRefillSlab,
		RefillFactor:      prefetch.DefaultRefillFactor,
		HighWater:         3000,
		Target:            2500,
		TTL:               60 * time.Second,
		EvictionDelay:     cache.DefaultIdleDelay,
		MinBatch:          prefetch.DefaultMinBatch,
		ChunkSize:         loader.DefaultChunkSize,
		MaxHighFetches:    4,
		MaxTotalFetches:   8,
		PumpInterval:      prefetch.DefaultPumpInterval,
		LowDebounce:       prefetch.DefaultLowDebounce,
	}
}

// MobileProfile returns the defaults for touch devices: every scroll sample
// is processed, runways start at a lower velocity and more items stay cached.
func MobileProfile() Profile {
	p := DesktopProfile()
	p.Device = core.Mobile
	p.ScrollThrottle = 0
	p.Margins = window.DefaultMargins(core.Mobile)
	p.RunwayThreshold = 6
	p.RefillSlab = 500
	p.Target = 2200
	p.TTL = 180 * time.Second
	return p
}

// ProfileFor returns the default profile of a device class.
func ProfileFor(d core.DeviceClass) Profile {
	if d == core.Mobile {
		return MobileProfile()
	}
	return DesktopProfile()
}

// Validate reports the first field outside its valid range.
func (p Profile) Validate() error {
	invalid := func(field string, v any, reason string) error {
		return &ErrInvalidProfile{Field: field, Value: v, Reason: reason}
	}

	switch {
	case p.Device != core.Desktop && p.Device != core.Mobile:
		return invalid("Device", p.Device, "unknown device class")
	case p.RowHeight <= 0:
		return invalid("RowHeight", p.RowHeight, "must be positive")
	case p.Columns < 1:
		return invalid("Columns", p.Columns, "must be at least 1")
	case p.Stride < 1:
		return invalid("Stride", p.Stride, "must be at least 1")
	case p.VelocityThreshold <= 0:
		return invalid("VelocityThreshold", p.VelocityThreshold, "must be positive")
	case p.Hold <= 0:
		return invalid("Hold", p.Hold, "must be positive")
	case p.MinVelocityChange < 0:
		return invalid("MinVelocityChange", p.MinVelocityChange, "must not be negative")
	case p.ScrollThrottle < 0:
		return invalid("ScrollThrottle", p.ScrollThrottle, "must not be negative")
	case p.FrameInterval <= 0:
		return invalid("FrameInterval", p.FrameInterval, "must be positive")
	case p.RunwayLength < 1:
		return invalid("RunwayLength", p.RunwayLength, "must be at least 1")
	case p.RunwayThreshold <= 0:
		return invalid("RunwayThreshold", p.RunwayThreshold, "must be positive")
	case p.RefillSlab < 1:
		return invalid("RefillSlab", p.RefillSlab, "must be at least 1")
	case p.RefillFactor <= 0:
		return invalid("RefillFactor", p.RefillFactor, "must be positive")
	case p.HighWater < 1:
		return invalid("HighWater", p.HighWater, "must be at least 1")
	case p.Target < 0 || p.Target > p.HighWater:
		return invalid("Target", p.Target, "must be within [0, HighWater]")
	case p.TTL < 0:
		return invalid("TTL", p.TTL, "must not be negative")
	case p.EvictionDelay < 0:
		return invalid("EvictionDelay", p.EvictionDelay, "must not be negative")
	case p.MinBatch < 0:
		return invalid("MinBatch", p.MinBatch, "must not be negative")
	case p.ChunkSize < 1:
		return invalid("ChunkSize", p.ChunkSize, "must be at least 1")
	case p.MaxHighFetches < 1:
		return invalid("MaxHighFetches", p.MaxHighFetches, "must be at least 1")
	case p.MaxTotalFetches <= p.MaxHighFetches:
		return invalid("MaxTotalFetches", p.MaxTotalFetches, "must exceed MaxHighFetches")
	case p.PumpInterval <= 0:
		return invalid("PumpInterval", p.PumpInterval, "must be positive")
	case p.LowDebounce <= 0:
		return invalid("LowDebounce", p.LowDebounce, "must be positive")
	}

	pads := []struct {
		name string
		pad  Pad
	}{
		{"Margins.Safety", p.Margins.Safety},
		{"Margins.Background", p.Margins.Background},
	}
	for _, m := range pads {
		if m.pad.BeforeBackward < 0 || m.pad.BeforeForward < 0 || m.pad.AfterForward < 0 || m.pad.AfterBackward < 0 {
			return invalid(m.name, m.pad, "paddings must not be negative")
		}
	}
	if p.Margins.Shift < 0 || p.Margins.EdgeIndex < 0 {
		return invalid("Margins", p.Margins, "shift and edge index must not be negative")
	}
	return nil
}

func (p Profile) anchorConfig() anchor.Config {
	return anchor.Config{
		RowHeight:         p.RowHeight,
		Stride:            p.Stride,
		Threshold:         p.VelocityThreshold,
		Hold:              p.Hold,
		Throttle:          p.ScrollThrottle,
		MinVelocityChange: p.MinVelocityChange,
	}
}
