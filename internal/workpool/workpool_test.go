package workpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapPreservesPosition(t *testing.T) {
	const n = 64
	var order atomic.Int64
	finish := make([]int64, n)

	got := Map(context.Background(), 8, n, func(_ context.Context, i int) int {
		// later items finish first
		time.Sleep(time.Duration(n-i) * 100 * time.Microsecond)
		finish[i] = order.Add(1)
		return i * i
	})
	for i, v := range got {
		if v != i*i {
			t.Fatalf("slot %d holds %d", i, v)
		}
	}
	if finish[n-1] > finish[0] {
		t.Logf("completion order was not reversed this run; placement still verified")
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int64
	Map(context.Background(), 3, 30, func(_ context.Context, i int) struct{} {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return struct{}{}
	})
	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 concurrent units, saw %d", peak.Load())
	}
}

func TestMapSequentialAndEmpty(t *testing.T) {
	if got := Map(context.Background(), 4, 0, func(context.Context, int) int { return 1 }); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
	got := Map(context.Background(), 0, 3, func(_ context.Context, i int) string { return string(rune('a' + i)) })
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected sequential result %v", got)
	}
}

func TestMapStopsFeedingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	Map(ctx, 1, 10, func(_ context.Context, i int) int {
		calls.Add(1)
		if i == 2 {
			cancel()
		}
		return i
	})
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls before cancellation, got %d", calls.Load())
	}
}
