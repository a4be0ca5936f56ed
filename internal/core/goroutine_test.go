package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoroutineID(t *testing.T) {
	self := GoroutineID()
	assert.NotZero(t, self)
	assert.Equal(t, self, GoroutineID())

	other := make(chan uint64)
	go func() { other <- GoroutineID() }()
	id := <-other
	assert.NotZero(t, id)
	assert.NotEqual(t, self, id)
}
