package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// pool - ограниченный пул воркеров на счётном семафоре.
// Отправка никогда не блокирует цикл тиков.
type pool struct {
	sem   *semaphore.Weighted
	size  int
	inUse atomic.Int64
	wg    sync.WaitGroup
}

func newPool(size int) *pool {
	if size <= 0 {
		size = 1
	}
	return &pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// tryGo запускает fn, если есть свободный слот.
func (p *pool) tryGo(fn func()) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.inUse.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.inUse.Add(-1)
		fn()
	}()
	return true
}

// wait ждёт завершения всех воркеров. false - если ctx истёк раньше.
func (p *pool) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
