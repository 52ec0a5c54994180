package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertfHoldingConditionIsSilent(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { Assertf(true, "never rendered %d", 1) })
}

func TestAssertfViolationPanicsWithTheMessage(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "broken invariant 42", func() {
		Assertf(false, "broken invariant %d", 42)
	})
}

func TestFailfPanics(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "no recovery from this", func() {
		Failf("no recovery from %s", "this")
	})
}
