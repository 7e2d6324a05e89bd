package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecords(t *testing.T) {
	rng := NewRNG(4711)

	recs := rng.Records("kjv", 10, 40)
	require.Len(t, recs, 10)
	for i, r := range recs {
		assert.Equal(t, i, r.Index)
		assert.Contains(t, r.Text, RecordText("kjv", i))
	}

	rng.Reset()
	assert.Equal(t, recs, rng.Records("kjv", 10, 40))
}

func TestScrollTrace(t *testing.T) {
	rng := NewRNG(4711)
	start := time.Unix(0, 0)

	trace := rng.ScrollTrace(TraceConfig{Steps: 200, RowHeight: 40, Total: 1000, Start: start})
	require.Len(t, trace, 200)

	for i, s := range trace {
		assert.GreaterOrEqual(t, s.Offset, 0.0)
		assert.LessOrEqual(t, s.Offset, 1000*40.0)
		assert.Equal(t, start.Add(time.Duration(i)*16*time.Millisecond), s.At)
	}
}

func TestCountingFetcher(t *testing.T) {
	f := NewCountingFetcher()
	f.Skip = func(i int) bool { return i == 2 }

	recs, err := f.FetchRange(context.Background(), "kjv", []int{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 1, f.CallCount())
	assert.Equal(t, map[int]int{1: 1, 2: 1, 3: 1}, f.Fetched())

	f.Fail = func(string, []int) bool { return true }
	_, err = f.FetchRange(context.Background(), "kjv", []int{1})
	require.ErrorIs(t, err, ErrInjected)
}

func TestBlockingFetcher(t *testing.T) {
	f := NewBlockingFetcher()
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := f.FetchRange(ctx, "kjv", []int{1})
		errc <- err
	}()

	<-f.Started()
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	assert.Len(t, f.Cancelled(), 1)

	f.ReleaseAll()
	f.ReleaseAll()
	recs, err := f.FetchRange(context.Background(), "kjv", []int{7})
	require.NoError(t, err)
	assert.Equal(t, RecordText("kjv", 7), recs[0].Text)
	assert.Len(t, f.Completed(), 1)
}
