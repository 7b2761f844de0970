package subscriber

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupWindow(t *testing.T) {
	d := newDedupWindow(3)

	assert.False(t, d.seen(1))
	assert.False(t, d.seen(2))
	assert.True(t, d.seen(1))
	assert.False(t, d.seen(3))
	assert.True(t, d.seen(2))

	// 4 pushes 1 out of the window
	assert.False(t, d.seen(4))
	assert.False(t, d.seen(1))
	assert.True(t, d.seen(4))
	assert.True(t, d.seen(3))
	assert.False(t, d.seen(2), "2 was evicted by 1")
}
