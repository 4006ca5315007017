package party

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunnerExecutesSubmittedTasks(t *testing.T) {
	r := NewRunner(2, nil)

	var ran int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		r.Submit("count", func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt64(&ran, 1)
			return nil
		})
	}
	wg.Wait()
	r.Close()

	assert.Equal(t, int64(8), atomic.LoadInt64(&ran))
}

func TestRunnerSubmitAfterCloseDropsTask(t *testing.T) {
	r := NewRunner(1, nil)
	r.Close()

	var ran int64
	// Must not panic on the closed task channel.
	r.Submit("late", func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))
}

func TestRunnerCloseTwice(t *testing.T) {
	r := NewRunner(1, nil)
	r.Close()
	r.Close()
}

func TestRunnerSurvivesFailingTask(t *testing.T) {
	r := NewRunner(1, nil)

	done := make(chan struct{})
	r.Submit("boom", func(ctx context.Context) error {
		return errors.New("task failure")
	})
	r.Submit("after", func(ctx context.Context) error {
		close(done)
		return nil
	})
	<-done
	r.Close()
}
