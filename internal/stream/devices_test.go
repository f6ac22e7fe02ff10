package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaConfigWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultMedia(), MediaConfig{}.withDefaults())

	c := MediaConfig{MaxWidth: 1280, MaxHeight: 720, BitRate: 2_000_000}
	assert.Equal(t, c, c.withDefaults())

	partial := MediaConfig{BitRate: 500_000}.withDefaults()
	assert.Equal(t, 640, partial.MaxWidth)
	assert.Equal(t, 480, partial.MaxHeight)
	assert.Equal(t, 500_000, partial.BitRate)
}
