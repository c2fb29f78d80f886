package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after))
}

func TestClockNowIn(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CST", -6*60*60)
	assert.Equal(t, loc, NewIn(loc).Now().Location())
	assert.Equal(t, time.UTC, NewIn(nil).Now().Location())
}
