package crosschain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Status  string
	Touched int
	Done    bool
}

func newTestTracker() *tracker[testRecord] {
	return newTracker(
		func(r testRecord) bool { return r.Status == "done" || r.Status == "expired" },
		func(r *testRecord, _ time.Time, done bool) {
			r.Touched++
			r.Done = done
		},
	)
}

func TestTrackerTerminalIsSticky(t *testing.T) {
	tr := newTestTracker()
	tr.add("a", testRecord{Status: "pending"})

	rec, ok := tr.update("a", func(r *testRecord) { r.Status = "relaying" }, 0, nil)
	require.True(t, ok)
	require.Equal(t, "relaying", rec.Status)

	rec, ok = tr.finish("a", func(r *testRecord) { r.Status = "done" })
	require.True(t, ok)
	require.True(t, rec.Done)

	rec, ok = tr.finish("a", func(r *testRecord) { r.Status = "expired" })
	require.False(t, ok)
	require.Equal(t, "done", rec.Status)

	_, ok = tr.update("a", func(r *testRecord) { r.Status = "relaying" }, 0, nil)
	require.False(t, ok)

	rec, _ = tr.get("a")
	require.Equal(t, "done", rec.Status)
	require.Equal(t, 2, rec.Touched)

	_, ok = tr.finish("missing", func(r *testRecord) { r.Status = "done" })
	require.False(t, ok)
}

func TestTrackerExpiry(t *testing.T) {
	tr := newTestTracker()
	tr.add("a", testRecord{Status: "pending"})

	_, ok := tr.update("a", func(r *testRecord) { r.Status = "relaying" }, 10*time.Millisecond, func() {
		tr.finish("a", func(r *testRecord) { r.Status = "expired" })
	})
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := tr.wait(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "expired", rec.Status)

	total, active := tr.counts()
	require.Equal(t, 1, total)
	require.Zero(t, active)
}

func TestTrackerFinishStopsExpiry(t *testing.T) {
	tr := newTestTracker()
	tr.add("a", testRecord{Status: "pending"})

	expired := make(chan struct{}, 1)
	tr.update("a", func(r *testRecord) { r.Status = "relaying" }, 20*time.Millisecond, func() {
		expired <- struct{}{}
	})
	tr.finish("a", func(r *testRecord) { r.Status = "done" })

	select {
	case <-expired:
		t.Fatal("expiry fired for a finished record")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestTrackerWait(t *testing.T) {
	tr := newTestTracker()

	_, err := tr.wait(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRequestNotFound)

	tr.add("a", testRecord{Status: "pending"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	rec, err := tr.wait(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, "pending", rec.Status)

	tr.remove("a")
	_, ok := tr.get("a")
	require.False(t, ok)
}
