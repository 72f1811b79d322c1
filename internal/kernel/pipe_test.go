package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeRoundTrip(t *testing.T) {
	read, write := NewPipePair()
	done := make(chan struct{})
	go func() {
		_, err := write.Write([]byte("hello world"))
		assert.NoError(t, err)
		write.Close()
		close(done)
	}()

	var got []byte
	for {
		chunk, err := read.Read(4096)
		require.NoError(t, err)
		if chunk == nil {
			break
		}
		got = append(got, chunk...)
	}
	<-done
	assert.Equal(t, "hello world", string(got))
}

func TestPipeClosedWriterEmptyBufferIsEOF(t *testing.T) {
	read, write := NewPipePair()
	write.Close()
	chunk, err := read.Read(16)
	require.NoError(t, err)
	assert.Nil(t, chunk)
}

func TestPipeBackpressure(t *testing.T) {
	read, write := NewPipePair()
	big := make([]byte, PipeCapacity+10)
	writeDone := make(chan struct{})
	go func() {
		_, err := write.Write(big)
		assert.NoError(t, err)
		close(writeDone)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-writeDone:
		t.Fatal("write should have blocked on a full pipe")
	default:
	}

	total := 0
	for total < len(big) {
		chunk, err := read.Read(4096)
		require.NoError(t, err)
		total += len(chunk)
	}
	<-writeDone
}
