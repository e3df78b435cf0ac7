package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("thr")
	assert.True(t, strings.HasPrefix(id, "thr_"))
	assert.Len(t, id, len("thr_")+20)
}

func TestNewIDSortsByCreation(t *testing.T) {
	first := NewID("")
	second := NewID("")
	assert.NotEqual(t, first, second)
	assert.Less(t, first, second)
}
