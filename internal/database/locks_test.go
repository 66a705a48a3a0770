package database

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubjectLocks_SerializesSameSubject(t *testing.T) {
	locks := NewSubjectLocks()

	var active, maxActive int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("alice")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("expected at most 1 concurrent holder, got %d", maxActive)
	}
	if locks.Len() != 0 {
		t.Errorf("expected lock table to be empty, got %d entries", locks.Len())
	}
}

func TestSubjectLocks_DifferentSubjectsDoNotBlock(t *testing.T) {
	locks := NewSubjectLocks()

	unlockA := locks.Lock("alice")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("bob")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different subject blocked")
	}
}
