package watcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, d *Debouncer) []Event {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced batch")
		return nil
	}
}

func TestDebouncerEmitsAfterQuietWindow(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 16, nil)
	defer d.Stop()

	d.Add(Event{Op: OpModify, RelPath: "a.go", Time: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Op)
	assert.Equal(t, "a.go", batch[0].RelPath)
}

func TestDebouncerCoalescesSamePath(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, 16, nil)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Add(Event{Op: OpModify, RelPath: "a.go", Time: time.Now()})
	}

	batch := receiveBatch(t, d)
	assert.Len(t, batch, 1)
}

func TestCreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, 16, nil)
	defer d.Stop()

	d.Add(Event{Op: OpCreate, RelPath: "tmp.go", Time: time.Now()})
	d.Add(Event{Op: OpDelete, RelPath: "tmp.go", Time: time.Now()})
	d.Add(Event{Op: OpModify, RelPath: "other.go", Time: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "other.go", batch[0].RelPath)
}

func TestCreateThenModifyStaysCreate(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, 16, nil)
	defer d.Stop()

	d.Add(Event{Op: OpCreate, RelPath: "new.go", Time: time.Now()})
	d.Add(Event{Op: OpModify, RelPath: "new.go", Time: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreate, batch[0].Op)
}

func TestDeleteThenCreateBecomesModify(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, 16, nil)
	defer d.Stop()

	d.Add(Event{Op: OpDelete, RelPath: "swap.go", Time: time.Now()})
	d.Add(Event{Op: OpCreate, RelPath: "swap.go", Time: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Op)
}

func TestResyncSupersedesPending(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, 16, nil)
	defer d.Stop()

	d.Add(Event{Op: OpModify, RelPath: "a.go", Time: time.Now()})
	d.Add(Event{Op: OpModify, RelPath: "b.go", Time: time.Now()})
	d.Add(Event{Op: OpResync, Time: time.Now()})

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpResync, batch[0].Op)
}

func TestQueueSizeSetsOutputCapacity(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, 4, nil)
	defer d.Stop()
	assert.Equal(t, 4, cap(d.Output()))

	fallback := NewDebouncer(10*time.Millisecond, 0, nil)
	defer fallback.Stop()
	assert.Equal(t, 16, cap(fallback.Output()))
}

func TestStopConcurrentWithFlush(t *testing.T) {
	for i := 0; i < 500; i++ {
		d := NewDebouncer(time.Hour, 16, nil)
		d.Add(Event{Op: OpModify, RelPath: "a.go", Time: time.Now()})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.flush()
		}()
		go func() {
			defer wg.Done()
			d.Stop()
		}()
		wg.Wait()
	}
}

func TestAddAfterStopIsNoop(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, 16, nil)
	d.Stop()
	d.Add(Event{Op: OpModify, RelPath: "late.go", Time: time.Now()})
	d.Stop() // idempotent

	_, open := <-d.Output()
	assert.False(t, open, "output closes on stop")
}
