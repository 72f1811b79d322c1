package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferSinkTruncates(t *testing.T) {
	sink := NewBufferSink(4)
	n, err := sink.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hell"), sink.Bytes())
	assert.True(t, sink.Truncated())
}

func TestStaticSourceEOF(t *testing.T) {
	src := NewStaticSource([]byte("ab"))
	chunk, err := src.Read(1)
	assert.NoError(t, err)
	assert.Equal(t, []byte("a"), chunk)
	chunk, err = src.Read(1)
	assert.NoError(t, err)
	assert.Equal(t, []byte("b"), chunk)
	chunk, err = src.Read(1)
	assert.NoError(t, err)
	assert.Nil(t, chunk)
}

func TestNullSinkDiscards(t *testing.T) {
	var sink NullSink
	n, err := sink.Write([]byte("discarded"))
	assert.NoError(t, err)
	assert.Equal(t, 9, n)
}
