package queue

import (
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pull()
		if !ok || got != want {
			t.Fatalf("expected %d, got %d ok=%v", want, got, ok)
		}
	}
}

func TestQueueBlocksUntilPush(t *testing.T) {
	q := New[string]()
	done := make(chan string, 1)
	go func() {
		v, ok := q.Pull()
		if !ok {
			done <- "CLOSED"
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("expected hello, got %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pull")
	}
}

func TestQueueCloseUnblocksConsumer(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pull()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close() // idempotent

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected ok=false after close with no items")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close to unblock consumer")
	}

	q.Push(42) // no-op post-close
	if q.Len() != 0 {
		t.Fatalf("expected push after close to be dropped")
	}
}

func TestQueueDrainsRemainingBeforeClose(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Close()

	v, ok := q.Pull()
	if !ok || v != 1 {
		t.Fatalf("expected remaining item 1 before close signal, got %d ok=%v", v, ok)
	}
	if _, ok := q.Pull(); ok {
		t.Fatalf("expected false after queue drained and closed")
	}
}
