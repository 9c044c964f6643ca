package queue

import "testing"
import "container/list"

func TestPush(t *testing.T) {
	q := NewQueue[int](3)

	a, b, c := q.Push(3), q.Push(4), q.Push(5)

	if !(a && b && c) {
		t.Fatal("Could not Push three elements")
	}
}

func TestPushLimit(t *testing.T) {
	q := NewQueue[int](2)

	a, b, c := q.Push(3), q.Push(4), q.Push(5)

	if !(a && b) || c {
		t.Fatal("Could Push last element:", a, b, c)
	}
}

func TestZeroCapacity(t *testing.T) {
	q := NewQueue[int](0)

	if q.Push(1) || q.PushFront(1) {
		t.Fatal("Could Push to zero-capacity queue")
	}
}

func TestPopEmpty(t *testing.T) {
	q := NewQueue[int](10)

	if _, ok := q.Pop(); ok {
		t.Fatal("Could Pop from empty queue")
	}
}

func TestPop(t *testing.T) {
	q := NewQueue[int](10)

	q.Push(1)
	q.Push(2)
	q.Push(3)

	a, _ := q.Pop()
	b, _ := q.Pop()
	c, _ := q.Pop()

	if a != 1 || b != 2 || c != 3 {
		t.Fatal("Bad contents:", a, b, c)
	}

	if _, ok := q.Pop(); ok {
		t.Fatal("Yields element past end")
	}
}

func TestLen(t *testing.T) {
	q := NewQueue[int](10)
	q.Push(2)
	q.Push(3)
	if q.Len() != 2 {
		t.Fatal("Wrong length", q.Len())
	}
}

func TestLen2(t *testing.T) {
	q := NewQueue[int](3)
	q.Push(2)
	q.Push(3)
	q.Push(4)
	q.Pop()
	q.Pop()
	q.Push(5)
	if q.Len() != 2 {
		t.Fatal("Wrong length", q.Len())
	}
	q.Pop()
	if e, _ := q.Pop(); e != 5 {
		t.Fatal("Unexpected value")
	}
}

func TestPeek(t *testing.T) {
	q := NewQueue[int](10)
	q.Push(2)

	if e, _ := q.Peek(); e != 2 {
		t.Fatal("Wrong element:", e)
	}
	if q.Len() != 1 {
		t.Fatal("Peek removed element")
	}
}

func TestPushFront(t *testing.T) {
	q := NewQueue[int](3)
	q.Push(2)
	q.Push(3)
	if !q.PushFront(1) {
		t.Fatal("Could not PushFront")
	}
	if q.PushFront(0) {
		t.Fatal("Could PushFront to full queue")
	}

	for want := 1; want <= 3; want++ {
		if e, _ := q.Pop(); e != want {
			t.Fatal("Wrong order:", e, want)
		}
	}
}

func TestUnboundedGrows(t *testing.T) {
	q := NewUnboundedQueue[int](2)

	// Force wraparound before growing.
	q.Push(0)
	q.Pop()
	for i := 0; i < 100; i++ {
		if !q.Push(i) {
			t.Fatal("Unbounded queue refused element", i)
		}
	}
	if q.Cap() != -1 || q.Len() != 100 {
		t.Fatal("Wrong cap/len", q.Cap(), q.Len())
	}
	for i := 0; i < 100; i++ {
		if e, _ := q.Pop(); e != i {
			t.Fatal("Wrong order after growing:", e, i)
		}
	}
}

func TestUnboundedPushFrontGrows(t *testing.T) {
	q := NewUnboundedQueue[string](1)
	q.Push("b")
	q.PushFront("a")
	q.Push("c")

	items := q.Items()
	if len(items) != 3 || items[0] != "a" || items[1] != "b" || items[2] != "c" {
		t.Fatal("Wrong items:", items)
	}
}

func TestRemoveFunc(t *testing.T) {
	q := NewQueue[int](5)
	// Wrap around so that removal has to deal with the ring.
	q.Push(-1)
	q.Push(-1)
	q.Pop()
	q.Pop()
	for i := 1; i <= 5; i++ {
		q.Push(i)
	}

	n := q.RemoveFunc(func(e int) bool { return e%2 == 0 })
	if n != 2 || q.Len() != 3 {
		t.Fatal("Wrong removal count", n, q.Len())
	}
	items := q.Items()
	if items[0] != 1 || items[1] != 3 || items[2] != 5 {
		t.Fatal("Wrong items:", items)
	}

	// Room is reclaimed.
	if !q.Push(6) || !q.Push(7) || q.Push(8) {
		t.Fatal("Wrong capacity after removal")
	}
	if e, _ := q.Pop(); e != 1 {
		t.Fatal("Wrong head after removal:", e)
	}
}

// Benches time for Pushing, then Popping 10 elements from a long queue
func BenchmarkQueue(b *testing.B) {
	q := NewQueue[int](1000)

	for i := 0; i < b.N; i++ {
		for j := 0; j < 10; j++ {
			if !q.Push(j) {
				b.Fatal("couldn't Push")
			}
		}
		for j := 0; j < 10; j++ {
			if _, ok := q.Pop(); !ok {
				b.Fatal("got nothing", i, j)
			}
		}
	}
}

// Compare with linked list performance
func BenchmarkQueueLinkedList(b *testing.B) {
	l := list.New()

	for i := 0; i < b.N; i++ {
		for j := 0; j < 10; j++ {
			if nil == l.PushBack(i) {
				b.Fatal("couldn't Push")
			}
		}
		for j := 0; j < 10; j++ {
			if nil == l.Remove(l.Front()) {
				b.Fatal("got nil", i, j)
			}
		}
	}
}

// Compare with chans
func BenchmarkQueueChan(b *testing.B) {
	c := make(chan int, 1000)

	for i := 0; i < b.N; i++ {
		for j := 0; j < 10; j++ {
			c <- i
		}
		for j := 0; j < 10; j++ {
			if -1 == <-c {
				b.Fatal("unexpected value")
			}
		}
	}
}
