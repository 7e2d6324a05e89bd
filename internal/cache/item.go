package cache

import (
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/rollwin/core"
	"github.com/hupe1980/rollwin/resource"
)

// DefaultIdleDelay is how long ScheduleEviction waits before running a pass.
const DefaultIdleDelay = 16 * time.Millisecond

// Entry is the cached state of one (variant, index) pair.
type Entry struct {
	Status core.Status
	// Text is set only when Status is StatusReady.
	Text string
	// Err is set only when Status is StatusError.
	Err        error
	LastAccess time.Time
	Pinned     bool
}

type itemKey struct {
	variant string
	index   int
}

// EvictOptions describes one direction-biased eviction pass.
type EvictOptions struct {
	Variant string
	// Forward is never evicted from.
	Forward core.Range
	// Backward is evicted from first.
	Backward core.Range
	// HighWater is the size above which ScheduleEviction starts a pass.
	HighWater int
	// Target is the size a pass stops at.
	Target int
	// TTL marks entries older than this as expired. Zero disables expiry.
	TTL time.Duration
}

// ItemStats is a point-in-time view of an ItemCache.
type ItemStats struct {
	Entries   int
	Ready     int
	Loading   int
	Errored   int
	InFlight  int
	Bytes     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// ItemOption configures an ItemCache.
type ItemOption func(*ItemCache)

// WithResourceController accounts payload bytes and eviction slots with rc.
func WithResourceController(rc *resource.Controller) ItemOption {
	return func(c *ItemCache) { c.rc = rc }
}

// WithLogger sets the logger used for eviction passes.
func WithLogger(l *slog.Logger) ItemOption {
	return func(c *ItemCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ItemOption {
	return func(c *ItemCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIdleDelay sets the delay between ScheduleEviction and the pass it starts.
func WithIdleDelay(d time.Duration) ItemOption {
	return func(c *ItemCache) {
		if d >= 0 {
			c.idleDelay = d
		}
	}
}

// WithEvictionHook is called after every pass that removed at least one entry.
func WithEvictionHook(fn func(variant string, removed int)) ItemOption {
	return func(c *ItemCache) { c.onEvict = fn }
}

// ItemCache stores per-item fetch state keyed by (variant, index).
//
// All mutation goes through its methods. The in-flight bitmaps are the only
// deduplication authority for fetches: BeginLoad checks and marks them under
// the same lock, so two loaders can never claim the same index.
type ItemCache struct {
	mu       sync.Mutex
	entries  map[itemKey]*Entry
	inflight map[string]*roaring.Bitmap
	ready    map[string]*roaring.Bitmap
	active   map[string]core.Range
	bytes    int64

	rc        *resource.Controller
	logger    *slog.Logger
	now       func() time.Time
	idleDelay time.Duration
	onEvict   func(variant string, removed int)

	version atomic.Uint64

	lmu       sync.Mutex
	listeners map[uint64]func()
	nextID    uint64

	evictMu      sync.Mutex
	evictTimer   *time.Timer
	evictPending *EvictOptions
	closed       bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewItemCache creates an empty ItemCache.
func NewItemCache(opts ...ItemOption) *ItemCache {
	c := &ItemCache{
		entries:   make(map[itemKey]*Entry),
		inflight:  make(map[string]*roaring.Bitmap),
		ready:     make(map[string]*roaring.Bitmap),
		active:    make(map[string]core.Range),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		idleDelay: DefaultIdleDelay,
		listeners: make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the entry without touching it.
func (c *ItemCache) Get(variant string, index int) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[itemKey{variant, index}]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Read is Get plus an access-time update. Only ready entries count as hits.
func (c *ItemCache) Read(variant string, index int) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[itemKey{variant, index}]
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	e.LastAccess = c.now()
	if e.Status == core.StatusReady {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return *e, true
}

// Has reports whether any entry exists for (variant, index).
func (c *ItemCache) Has(variant string, index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[itemKey{variant, index}]
	return ok
}

// Len returns the number of entries across all variants.
func (c *ItemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Set stores e for (variant, index). Pinning is preserved from any previous entry.
func (c *ItemCache) Set(variant string, index int, e Entry) {
	c.mu.Lock()
	changed := c.setLocked(variant, index, e)
	c.mu.Unlock()

	if changed {
		c.bump()
	}
}

// SetReady stores records as ready under one lock and one version bump.
func (c *ItemCache) SetReady(variant string, records []core.Record) {
	if len(records) == 0 {
		return
	}

	changed := false
	c.mu.Lock()
	for _, r := range records {
		if c.setLocked(variant, r.Index, Entry{Status: core.StatusReady, Text: r.Text}) {
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.bump()
	}
}

// SetError marks indices as failed. Ready entries are left alone.
func (c *ItemCache) SetError(variant string, indices []int, err error) {
	if len(indices) == 0 {
		return
	}

	changed := false
	c.mu.Lock()
	for _, i := range indices {
		if e, ok := c.entries[itemKey{variant, i}]; ok && e.Status == core.StatusReady {
			continue
		}
		if c.setLocked(variant, i, Entry{Status: core.StatusError, Err: err}) {
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.bump()
	}
}

// setLocked reports whether the entry transitioned into ready or error.
func (c *ItemCache) setLocked(variant string, index int, e Entry) bool {
	k := itemKey{variant, index}
	prev, exists := c.entries[k]

	if exists {
		e.Pinned = e.Pinned || prev.Pinned
		c.releaseLocked(variant, index, prev)
	}

	if e.Status == core.StatusReady {
		size := int64(len(e.Text))
		if err := c.rc.AcquireMemory(size); err != nil {
			e = Entry{Status: core.StatusError, Err: err, Pinned: e.Pinned}
		} else {
			c.bytes += size
			bitmapFor(c.ready, variant).Add(uint32(index))
		}
	}
	if e.Status != core.StatusReady {
		e.Text = ""
	}
	if e.LastAccess.IsZero() {
		e.LastAccess = c.now()
	}

	ne := e
	c.entries[k] = &ne

	if e.Status == core.StatusLoading {
		return false
	}
	return !exists || prev.Status != e.Status || e.Status == core.StatusReady
}

func (c *ItemCache) releaseLocked(variant string, index int, e *Entry) {
	if e.Status != core.StatusReady {
		return
	}
	size := int64(len(e.Text))
	c.rc.ReleaseMemory(size)
	c.bytes -= size
	if bm, ok := c.ready[variant]; ok {
		bm.Remove(uint32(index))
	}
}

func (c *ItemCache) removeLocked(k itemKey) {
	e, ok := c.entries[k]
	if !ok {
		return
	}
	c.releaseLocked(k.variant, k.index, e)
	delete(c.entries, k)
}

func bitmapFor(m map[string]*roaring.Bitmap, variant string) *roaring.Bitmap {
	bm, ok := m[variant]
	if !ok {
		bm = roaring.New()
		m[variant] = bm
	}
	return bm
}

// ReadyCount returns how many indices of r are ready under variant.
func (c *ItemCache) ReadyCount(variant string, r core.Range) int {
	if !r.Valid() || r.Start < 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bm, ok := c.ready[variant]
	if !ok {
		return 0
	}
	n := bm.Rank(uint32(r.End))
	if r.Start > 0 {
		n -= bm.Rank(uint32(r.Start - 1))
	}
	return int(n)
}

// MarkPinned pins every present entry of r and protects r as the variant's
// active render range until ClearPins.
func (c *ItemCache) MarkPinned(variant string, r core.Range) {
	if !r.Valid() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := r.Start; i <= r.End; i++ {
		if e, ok := c.entries[itemKey{variant, i}]; ok {
			e.Pinned = true
		}
	}
	c.active[variant] = r
}

// ClearPins unpins every entry of variant and drops its active render range.
func (c *ItemCache) ClearPins(variant string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if k.variant == variant {
			e.Pinned = false
		}
	}
	delete(c.active, variant)
}

// BeginLoad scans [a,b] and claims every index that is neither ready nor in
// flight: the index is marked in flight and its entry set to loading. The
// claimed indices are returned in ascending order.
func (c *ItemCache) BeginLoad(variant string, a, b int) []int {
	if a < 0 {
		a = 0
	}
	if b < a {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fl := bitmapFor(c.inflight, variant)
	var todo []int
	now := c.now()

	for i := a; i <= b; i++ {
		k := itemKey{variant, i}
		e, ok := c.entries[k]
		if ok && e.Status == core.StatusReady {
			continue
		}
		if fl.Contains(uint32(i)) {
			continue
		}
		fl.Add(uint32(i))
		if ok {
			e.Status = core.StatusLoading
			e.Err = nil
			e.LastAccess = now
		} else {
			c.entries[k] = &Entry{Status: core.StatusLoading, LastAccess: now}
		}
		todo = append(todo, i)
	}
	return todo
}

// EndLoad clears the in-flight markers of indices.
func (c *ItemCache) EndLoad(variant string, indices []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fl, ok := c.inflight[variant]
	if !ok {
		return
	}
	for _, i := range indices {
		fl.Remove(uint32(i))
	}
}

// IsInFlight reports whether (variant, index) is currently claimed by a loader.
func (c *ItemCache) IsInFlight(variant string, index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fl, ok := c.inflight[variant]
	return ok && fl.Contains(uint32(index))
}

// Evict runs one direction-biased pass synchronously and returns the number of
// removed entries.
//
// Only entries of opts.Variant are candidates, but the size compared against
// opts.Target counts every variant. Pinned entries, in-flight entries and
// entries inside opts.Forward or the active render range are never removed.
// Candidates are removed in tiers: expired trailing, trailing, expired other,
// other; each tier oldest access first.
func (c *ItemCache) Evict(opts EvictOptions) int {
	c.mu.Lock()

	if len(c.entries) <= opts.Target {
		c.mu.Unlock()
		return 0
	}

	type candidate struct {
		key    itemKey
		access time.Time
	}

	now := c.now()
	fl := c.inflight[opts.Variant]
	active, hasActive := c.active[opts.Variant]

	var trailing, other []candidate
	for k, e := range c.entries {
		if k.variant != opts.Variant || e.Pinned {
			continue
		}
		if fl != nil && fl.Contains(uint32(k.index)) {
			continue
		}
		if opts.Forward.Contains(k.index) || (hasActive && active.Contains(k.index)) {
			continue
		}
		cand := candidate{key: k, access: e.LastAccess}
		if opts.Backward.Contains(k.index) {
			trailing = append(trailing, cand)
		} else {
			other = append(other, cand)
		}
	}

	byAccess := func(a, b candidate) int { return a.access.Compare(b.access) }
	slices.SortFunc(trailing, byAccess)
	slices.SortFunc(other, byAccess)

	expired := func(x candidate) bool {
		return opts.TTL > 0 && now.Sub(x.access) > opts.TTL
	}
	all := func(candidate) bool { return true }

	removed := 0
	tiers := []struct {
		group []candidate
		match func(candidate) bool
	}{
		{trailing, expired},
		{trailing, all},
		{other, expired},
		{other, all},
	}

	for _, tier := range tiers {
		for _, x := range tier.group {
			if len(c.entries) <= opts.Target {
				break
			}
			if _, ok := c.entries[x.key]; !ok || !tier.match(x) {
				continue
			}
			c.removeLocked(x.key)
			removed++
		}
	}

	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		c.logger.Debug("evicted items",
			"variant", opts.Variant,
			"removed", removed,
			"size", size,
			"target", opts.Target)
		if c.onEvict != nil {
			c.onEvict(opts.Variant, removed)
		}
	}
	return removed
}

// ScheduleEviction starts an eviction pass after the idle delay if the cache
// holds more than opts.HighWater entries. While a pass is pending, later calls
// only replace its options. It reports whether a pass is pending afterwards.
func (c *ItemCache) ScheduleEviction(opts EvictOptions) bool {
	if c.Len() <= opts.HighWater {
		return false
	}

	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	if c.closed {
		return false
	}

	o := opts
	if c.evictPending != nil {
		c.evictPending = &o
		return true
	}
	c.evictPending = &o
	c.evictTimer = time.AfterFunc(c.idleDelay, c.runScheduledEviction)
	return true
}

func (c *ItemCache) runScheduledEviction() {
	c.evictMu.Lock()
	opts := c.evictPending
	c.evictPending = nil
	c.evictTimer = nil
	c.evictMu.Unlock()

	if opts == nil {
		return
	}

	// At most one pass runs at a time; a busy slot means a pass is already
	// shrinking the cache.
	if !c.rc.TryAcquireBackground() {
		return
	}
	defer c.rc.ReleaseBackground()

	c.Evict(*opts)
}

// Version increases whenever an entry transitions into ready or error.
func (c *ItemCache) Version() uint64 {
	return c.version.Load()
}

// Subscribe registers fn to be called after every version change and returns
// a function that removes it.
func (c *ItemCache) Subscribe(fn func()) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *ItemCache) bump() {
	c.version.Add(1)

	c.lmu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Stats returns current cache statistics.
func (c *ItemCache) Stats() ItemStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := ItemStats{
		Entries:   len(c.entries),
		Bytes:     c.bytes,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	for _, e := range c.entries {
		switch e.Status {
		case core.StatusReady:
			s.Ready++
		case core.StatusLoading:
			s.Loading++
		case core.StatusError:
			s.Errored++
		}
	}
	for _, bm := range c.inflight {
		s.InFlight += int(bm.GetCardinality())
	}
	return s
}

// Close stops any pending eviction pass. Entries remain readable.
func (c *ItemCache) Close() error {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	c.closed = true
	if c.evictTimer != nil {
		c.evictTimer.Stop()
		c.evictTimer = nil
	}
	c.evictPending = nil
	return nil
}
