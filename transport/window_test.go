package transport

import "testing"

func TestCircularQueue(t *testing.T) {
	q := newCircularQueue[int](4)
	for i := 0; i < 3; i++ {
		q.Enqueue(i)
	}
	if got := q.Dequeue(); got != 0 {
		t.Fatalf("unexpected head got %d exp 0", got)
	}
	// Wrap around and force growth.
	for i := 3; i < 10; i++ {
		q.Enqueue(i)
	}
	if q.Len() != 9 {
		t.Fatalf("unexpected length got %d exp 9", q.Len())
	}
	for i := 0; i < q.Len(); i++ {
		if got := q.Peek(i); got != i+1 {
			t.Errorf("unexpected peek(%d) got %d exp %d", i, got, i+1)
		}
	}
	for i := 1; i < 10; i++ {
		if got := q.Dequeue(); got != i {
			t.Errorf("unexpected dequeue got %d exp %d", got, i)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestCircularQueue_PeekOutOfBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	q := newCircularQueue[int](4)
	q.Enqueue(1)
	q.Peek(1)
}
