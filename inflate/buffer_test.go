package inflate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer(t *testing.T) {
	buf := NewBuffer(8)
	assert.Equal(t, 8, buf.Cap())
	assert.Equal(t, 0, buf.Len())

	n, err := buf.Write([]byte("abcd"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = buf.Write([]byte("efghij"))
	assert.Equal(t, 4, n)
	assert.Equal(t, &CapacityError{Capacity: 8, Need: 10}, err)
	assert.Equal(t, "abcdefgh", string(buf.Bytes()))
	assert.Contains(t, err.Error(), "capacity is 8")

	buf.Reset()
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 8, buf.Cap())
}

func TestNewBufferNegative(t *testing.T) {
	assert.Equal(t, 0, NewBuffer(-1).Cap())
}
