package asyncjob

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteRunsJobAndWaitBlocksUntilDone(t *testing.T) {
	a := New()
	defer a.Close()

	var ran int32
	a.Execute(func(arg any) {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&ran, arg.(int32))
	}, int32(42))

	a.Wait()
	if got := atomic.LoadInt32(&ran); got != 42 {
		t.Fatalf("ran = %d, want 42", got)
	}
}

func TestExecuteSerializesJobs(t *testing.T) {
	a := New()
	defer a.Close()

	var order []int
	done := make(chan struct{}, 3)
	run := func(n int) func(arg any) {
		return func(arg any) {
			time.Sleep(5 * time.Millisecond)
			order = append(order, n)
			done <- struct{}{}
		}
	}

	a.Execute(run(1), nil)
	a.Wait()
	a.Execute(run(2), nil)
	a.Wait()
	a.Execute(run(3), nil)
	a.Wait()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}
