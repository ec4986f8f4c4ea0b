package hal

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// table is a dense handle table. Ids are handed out in increasing order and never reused, so a stale id
// simply fails to resolve. Erase moves the last entry into the erased slot, so indices are not stable
// across erases.
type table[T any] struct {
	name     string
	capacity int
	nextID   uint32

	ids     []uint32
	entries []T
	index   *swiss.Map[uint32, int]
}

func newTable[T any](name string, capacity int) *table[T] {
	return &table[T]{
		name:     name,
		capacity: capacity,
		nextID:   1,
		ids:      make([]uint32, 0, capacity),
		entries:  make([]T, 0, capacity),
		index:    swiss.NewMap[uint32, int](uint32(capacity)),
	}
}

func (t *table[T]) insert(value T) (uint32, error) {
	if len(t.entries) >= t.capacity {
		return 0, errors.Wrapf(ErrOutOfHandles, "%s table is full at %d entries", t.name, t.capacity)
	}
	if t.nextID == math.MaxUint32 {
		return 0, errors.Wrapf(ErrOutOfHandles, "%s table has exhausted its ids", t.name)
	}

	id := t.nextID
	t.nextID++

	t.index.Put(id, len(t.entries))
	t.ids = append(t.ids, id)
	t.entries = append(t.entries, value)
	return id, nil
}

func (t *table[T]) get(id uint32) (T, bool) {
	slot, ok := t.index.Get(id)
	if !ok {
		var zero T
		return zero, false
	}
	return t.entries[slot], true
}

func (t *table[T]) erase(id uint32) (T, bool) {
	var zero T

	slot, ok := t.index.Get(id)
	if !ok {
		return zero, false
	}
	value := t.entries[slot]

	last := len(t.entries) - 1
	if slot != last {
		t.entries[slot] = t.entries[last]
		t.ids[slot] = t.ids[last]
		t.index.Put(t.ids[slot], slot)
	}
	t.entries[last] = zero
	t.entries = t.entries[:last]
	t.ids = t.ids[:last]
	t.index.Delete(id)

	return value, true
}

func (t *table[T]) len() int {
	return len(t.entries)
}

// each visits live entries in slot order
func (t *table[T]) each(visit func(id uint32, value T)) {
	for slot, value := range t.entries {
		visit(t.ids[slot], value)
	}
}

// clear drops every entry. Ids keep increasing afterward.
func (t *table[T]) clear() {
	clear(t.entries)
	t.entries = t.entries[:0]
	t.ids = t.ids[:0]
	t.index = swiss.NewMap[uint32, int](uint32(t.capacity))
}
