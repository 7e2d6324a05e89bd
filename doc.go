// Package rollwin renders a very large ordered dataset in a scrolling viewport
// without materializing it: it tracks the viewport anchor and scroll velocity,
// plans which index ranges must be resident now, soon and eventually, fetches
// them under prioritized concurrency limits and evicts cached items behind the
// scroll direction first.
//
// # Quick Start
//
//	blobs := blobstore.NewLocalStore("./data")
//	store := recordstore.New(blobs)
//
//	e, _ := rollwin.New(store, 31102, rollwin.WithVariant("kjv"))
//	defer e.Close()
//
//	// On every scroll event and frame tick:
//	e.Scroll(offset, time.Now())
//	e.Frame(offset, viewportHeight, time.Now())
//
//	// In the renderer:
//	for _, it := range e.RenderItems() {
//	    if it.Ready() {
//	        draw(it.Index, it.Text)
//	    }
//	}
//
// Or drive the engine from a channel of samples:
//
//	samples := make(chan rollwin.Sample)
//	go e.Run(ctx, rollwin.ChanSource(samples))
//
// # Windows
//
// Each anchor change yields three nested ranges:
//
//   - Render: the rows on screen, shifted toward the scroll direction
//   - Safety: fetched at high priority, never cancelled
//   - Background: fetched at low priority after a debounce, cancelled when
//     superseded
//
// Fast scrolling adds a runway of items strictly in the scroll direction; a
// thin buffer ahead of the anchor triggers a refill slab.
//
// # Eviction
//
// Once the cache holds more than Profile.HighWater items, an idle-time pass
// removes items of the active variant until Profile.Target remains. Items in
// the forward window, the render range and in-flight fetches are kept; items
// behind the scroll direction go first, expired ones before fresh ones.
//
// # Record Stores
//
// Any Fetcher works. The recordstore package serves packed, compressed record
// blocks from a blobstore.BlobStore: local files (mmap), MinIO or S3, with an
// optional block cache in front.
package rollwin
