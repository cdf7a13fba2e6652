package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterestHas(t *testing.T) {
	both := Read | Write

	assert.True(t, both.Has(Read))
	assert.True(t, both.Has(Write))
	assert.False(t, Read.Has(Write))
	assert.False(t, Interest(0).Has(Read))
}

func TestInterestString(t *testing.T) {
	assert.Equal(t, "read", Read.String())
	assert.Equal(t, "write", Write.String())
	assert.Equal(t, "read|write", (Read | Write).String())
	assert.Equal(t, "none", Interest(0).String())
}
