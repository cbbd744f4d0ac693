package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinQueueOrder(t *testing.T) {
	pq := NewMin(4)
	pq.PushItem(Item{ID: 1, Distance: 3})
	pq.PushItem(Item{ID: 2, Distance: 1})
	pq.PushItem(Item{ID: 3, Distance: 2})

	assert.Equal(t, Item{ID: 2, Distance: 1}, pq.PopItem())
	assert.Equal(t, Item{ID: 3, Distance: 2}, pq.PopItem())
	assert.Equal(t, Item{ID: 1, Distance: 3}, pq.PopItem())
}

func TestMaxQueueBoundedResultSet(t *testing.T) {
	pq := NewMax(2)
	for _, it := range []Item{{ID: 1, Distance: 5}, {ID: 2, Distance: 1}, {ID: 3, Distance: 3}} {
		pq.PushItem(it)
		if pq.Len() > 2 {
			pq.PopItem()
		}
	}

	got := pq.Sorted()
	assert.Equal(t, []Item{{ID: 2, Distance: 1}, {ID: 3, Distance: 3}}, got)
}

func TestTieBreakByID(t *testing.T) {
	pq := NewMin(3)
	pq.PushItem(Item{ID: 9, Distance: 1})
	pq.PushItem(Item{ID: 4, Distance: 1})

	assert.Equal(t, Item{ID: 4, Distance: 1}, pq.PopItem())
	assert.Equal(t, Item{ID: 9, Distance: 1}, pq.PopItem())
}
