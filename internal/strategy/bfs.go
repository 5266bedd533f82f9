package strategy

// BFS 广度优先策略，先进先出
type BFS[T any] struct {
	items []T
	head  int
}

func NewBFS[T any]() *BFS[T] {
	return &BFS[T]{
		items: make([]T, 0),
	}
}

func (bfs *BFS[T]) Size() int {
	return len(bfs.items) - bfs.head
}

func (bfs *BFS[T]) HasNext() bool {
	return bfs.Size() > 0
}

func (bfs *BFS[T]) Pop() (T, error) {
	var zero T
	if bfs.Size() <= 0 {
		return zero, ErrEmpty
	}
	item := bfs.items[bfs.head]
	bfs.items[bfs.head] = zero
	bfs.head++
	if bfs.head == len(bfs.items) {
		bfs.items, bfs.head = bfs.items[:0], 0
	}
	return item, nil
}

func (bfs *BFS[T]) Push(items ...T) error {
	bfs.items = append(bfs.items, items...)
	return nil
}
