package transport

// circularQueue is a growable ring of items, used as the peek window of a Consumer.
type circularQueue[T any] struct {
	data []T
	head int
	tail int
	n    int
}

func newCircularQueue[T any](size int) *circularQueue[T] {
	if size < 4 {
		size = 4
	}
	return &circularQueue[T]{data: make([]T, size)}
}

func (q *circularQueue[T]) Len() int { return q.n }

// Enqueue adds v at the tail, growing the ring when it is full.
func (q *circularQueue[T]) Enqueue(v T) {
	if q.n == len(q.data) {
		buf := make([]T, len(q.data)*2)
		if q.head < q.tail {
			copy(buf, q.data[q.head:q.tail])
		} else {
			k := copy(buf, q.data[q.head:])
			copy(buf[k:], q.data[:q.tail])
		}
		q.head = 0
		q.tail = q.n
		q.data = buf
	}
	q.data[q.tail] = v
	q.tail++
	if q.tail == len(q.data) {
		q.tail = 0
	}
	q.n++
}

// Dequeue removes and returns the head item. It panics on an empty queue.
func (q *circularQueue[T]) Dequeue() T {
	if q.n == 0 {
		panic("dequeue from empty queue")
	}
	var zero T
	v := q.data[q.head]
	q.data[q.head] = zero
	q.head++
	if q.head == len(q.data) {
		q.head = 0
	}
	q.n--
	if q.n == 0 {
		q.head, q.tail = 0, 0
	}
	return v
}

// Peek returns the item i positions after the head.
// It should be used in conjunction with Len to prevent a panic.
func (q *circularQueue[T]) Peek(i int) T {
	if i < 0 || i >= q.n {
		panic("peek index is out of bounds")
	}
	p := q.head + i
	if p >= len(q.data) {
		p -= len(q.data)
	}
	return q.data[p]
}
