// Package testutil provides testing utilities for rollwin.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded RNG for synthetic datasets and scroll traces, and
// fake fetchers that count, block or fail on demand.
//
// # Synthetic Scroll Traces
//
//	rng := testutil.NewRNG(seed)
//	trace := rng.ScrollTrace(testutil.TraceConfig{Steps: 500, RowHeight: 40})
//
// # Fake Fetchers
//
//	f := testutil.NewCountingFetcher()
//	blocking := testutil.NewBlockingFetcher()
//	defer blocking.ReleaseAll()
package testutil
