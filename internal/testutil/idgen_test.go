package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/idmerge/internal/notify"
)

var _ notify.IDGenerator = (*FixedIDGenerator)(nil)

func TestFixedIDGenerator(t *testing.T) {
	g := NewFixedIDGenerator("cs-fixed")
	for range 3 {
		assert.Equal(t, "cs-fixed", g.Generate())
	}
}

func TestFixedIDGenerator_Default(t *testing.T) {
	assert.Equal(t, DefaultChangeSetID, NewFixedIDGenerator("").Generate())
}
