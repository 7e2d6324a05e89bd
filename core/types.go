package core

// Status is the fetch state of a cached item.
type Status uint8

const (
	// StatusLoading marks an item whose fetch has been scheduled.
	StatusLoading Status = iota + 1
	// StatusReady marks an item whose payload is present.
	StatusReady
	// StatusError marks a failed or cancelled fetch; the item is retryable.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Priority selects the prefetch pool a range is dispatched on.
type Priority uint8

const (
	// PriorityHigh is the safety buffer: reserved slots, never cancelled.
	PriorityHigh Priority = iota
	// PriorityLow is background pre-warming: debounced and cancellable.
	PriorityLow
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}

// DeviceClass selects padding and threshold defaults.
type DeviceClass uint8

const (
	// Desktop is a fine-pointer device (mouse, trackpad).
	Desktop DeviceClass = iota
	// Mobile is a coarse-pointer (touch) device.
	Mobile
)

func (d DeviceClass) String() string {
	if d == Mobile {
		return "mobile"
	}
	return "desktop"
}

// Direction returns +1 for forward (or stationary) movement and -1 for backward.
func Direction(velocity float64) int {
	if velocity < 0 {
		return -1
	}
	return 1
}

// Record is one item payload returned by a record store.
type Record struct {
	Index int
	Text  string
}
