package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBurstIntoOneBatch(t *testing.T) {
	d := newDebouncer(Config{DebounceDelay: 20 * time.Millisecond, MaxDebounceDelay: time.Second, QueueCapacity: 8})
	defer d.Close()

	d.Add(Event{Path: "/a", Type: EventWrite})
	d.Add(Event{Path: "/a", Type: EventWrite})
	d.Add(Event{Path: "/a", Type: EventWrite})

	select {
	case batch := <-d.Events():
		require.Len(t, batch, 3)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced batch")
	}
}

func TestDebouncerSeparatesDifferentPaths(t *testing.T) {
	d := newDebouncer(Config{DebounceDelay: 20 * time.Millisecond, MaxDebounceDelay: time.Second, QueueCapacity: 8})
	defer d.Close()

	d.Add(Event{Path: "/a", Type: EventWrite})
	d.Add(Event{Path: "/b", Type: EventWrite})

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case batch := <-d.Events():
			for _, ev := range batch {
				seen[ev.Path]++
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for debounced batch")
		}
	}
	require.Equal(t, 1, seen["/a"])
	require.Equal(t, 1, seen["/b"])
}

func TestDebouncerMaxDelayForcesFlushUnderContinuousActivity(t *testing.T) {
	d := newDebouncer(Config{DebounceDelay: time.Hour, MaxDebounceDelay: 30 * time.Millisecond, QueueCapacity: 8})
	defer d.Close()

	stop := time.After(100 * time.Millisecond)
loop:
	for {
		select {
		case <-stop:
			break loop
		default:
			d.Add(Event{Path: "/busy", Type: EventWrite})
			time.Sleep(5 * time.Millisecond)
		}
	}

	select {
	case batch := <-d.Events():
		require.NotEmpty(t, batch)
	case <-time.After(time.Second):
		t.Fatal("max delay never forced a flush")
	}
}
