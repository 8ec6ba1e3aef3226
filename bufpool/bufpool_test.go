package bufpool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_ResetOnClose(t *testing.T) {
	p := New()
	b := p.Get()
	b.WriteString("state")
	assert.Equal(t, 5, b.Len())
	assert.NoError(t, b.Close())

	next := p.Get()
	assert.Equal(t, 0, next.Len())
	next.Close()
}

func TestPool_DropsOversizedBuffers(t *testing.T) {
	p := NewWithLimit(64)

	small := p.Get()
	small.WriteString("tape")
	assert.True(t, p.put(small))

	large := p.Get()
	large.Write(bytes.Repeat([]byte{1}, 1024))
	assert.False(t, p.put(large))
}
