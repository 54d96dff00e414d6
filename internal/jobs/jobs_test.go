package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2, time.Second)
	var running, peak, done atomic.Int32

	for i := 0; i < 8; i++ {
		p.Submit("test", func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			done.Add(1)
			return nil
		})
	}
	p.Wait()

	assert.Equal(t, int32(8), done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_TimeoutAppliesToJob(t *testing.T) {
	p := NewPool(1, 10*time.Millisecond)
	var ctxErr atomic.Value
	p.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		ctxErr.Store(ctx.Err())
		return ctx.Err()
	})
	p.Wait()
	assert.ErrorIs(t, ctxErr.Load().(error), context.DeadlineExceeded)
}

func TestPool_DropsAfterWait(t *testing.T) {
	p := NewPool(1, 0)
	p.Wait()
	ran := false
	p.Submit("late", func(context.Context) error { ran = true; return nil })
	time.Sleep(5 * time.Millisecond)
	assert.False(t, ran)
}

func TestPool_SubmitRacingWait(t *testing.T) {
	p := NewPool(4, 0)
	var ran atomic.Int32

	var submitters sync.WaitGroup
	for i := 0; i < 32; i++ {
		submitters.Add(1)
		go func() {
			defer submitters.Done()
			p.Submit("test", func(context.Context) error {
				ran.Add(1)
				return nil
			})
		}()
	}
	p.Wait()
	atWait := ran.Load()
	submitters.Wait()

	// Every job accepted before Wait closed the pool finished inside Wait;
	// later ones were dropped and never run.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, atWait, ran.Load())
}

func TestManual_DrainRunsNestedJobs(t *testing.T) {
	m := &Manual{}
	var order []string
	m.Submit("a", func(context.Context) error {
		order = append(order, "a")
		m.Submit("c", func(context.Context) error { order = append(order, "c"); return nil })
		return errors.New("logged, not returned")
	})
	m.Submit("b", func(context.Context) error { order = append(order, "b"); return nil })
	assert.Equal(t, 2, m.Pending())

	n := m.Drain(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, m.Pending())
}
