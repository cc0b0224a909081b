package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveSeed(t *testing.T) {
	assert.Equal(t, int64(42), ResolveSeed(42))
	assert.Positive(t, ResolveSeed(0))
}

func TestStreamsAreDeterministicAndDistinct(t *testing.T) {
	a := Streams(7, 3)
	b := Streams(7, 3)
	assert.Len(t, a, 3)
	for i := range a {
		assert.Equal(t, a[i].Int63(), b[i].Int63())
	}
	c := Streams(7, 2)
	assert.NotEqual(t, c[0].Int63(), c[1].Int63())
}

