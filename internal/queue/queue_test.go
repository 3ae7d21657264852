package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueFifo(t *testing.T) {
	q := New(10)
	assert.Equal(t, 0, q.Len())

	q.Push([]byte("a"))
	q.Push([]byte("b"))
	assert.Equal(t, 2, q.Len())

	first, ok := q.First()
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), first)
	last, ok := q.Last()
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), last)

	item, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), item)
	item, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), item)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueBound(t *testing.T) {
	q := New(3)
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))
	q.Push([]byte("d"))
	assert.Equal(t, 3, q.Len())

	// The oldest entry was dropped.
	item, _ := q.Pop()
	assert.Equal(t, []byte("b"), item)
}

func TestQueueContains(t *testing.T) {
	q := New(10)
	q.Push([]byte("AT+SBDIX"))
	assert.True(t, q.Contains([]byte("AT+SBDIX")))
	assert.False(t, q.Contains([]byte("AT")))

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Contains([]byte("AT+SBDIX")))
}
