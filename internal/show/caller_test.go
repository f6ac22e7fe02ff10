package show

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitTimeWholeMinutes(t *testing.T) {
	joined := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	c := &Caller{JoinedAt: joined}

	assert.Equal(t, 0, c.WaitTime(joined))
	assert.Equal(t, 0, c.WaitTime(joined.Add(59*time.Second)))
	assert.Equal(t, 1, c.WaitTime(joined.Add(60*time.Second)))
	assert.Equal(t, 1, c.WaitTime(joined.Add(119*time.Second)))
	assert.Equal(t, 7, c.WaitTime(joined.Add(7*time.Minute+30*time.Second)))
}

func TestWaitTimeNeverNegative(t *testing.T) {
	joined := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	c := &Caller{JoinedAt: joined}

	assert.Equal(t, 0, c.WaitTime(joined.Add(-time.Minute)))
}

func TestSortCallersOrdering(t *testing.T) {
	// Tier first (live before waiting), priority inside a tier, then
	// insertion order.
	a := &Caller{ID: "a", Status: StatusWaiting, Priority: true, seq: 0}
	b := &Caller{ID: "b", Status: StatusLive, seq: 1}
	c := &Caller{ID: "c", Status: StatusWaiting, seq: 2}
	d := &Caller{ID: "d", Status: StatusWaiting, Priority: true, seq: 3}

	cs := []*Caller{c, d, a, b}
	sortCallers(cs)

	got := make([]string, len(cs))
	for i, x := range cs {
		got[i] = x.ID
	}
	assert.Equal(t, []string{"b", "a", "d", "c"}, got)
}

func TestSortCallersStableForEqualCallers(t *testing.T) {
	a := &Caller{ID: "a", Status: StatusWaiting, seq: 0}
	b := &Caller{ID: "b", Status: StatusWaiting, seq: 1}

	cs := []*Caller{a, b}
	sortCallers(cs)
	assert.Equal(t, "a", cs[0].ID)

	cs = []*Caller{b, a}
	sortCallers(cs)
	assert.Equal(t, "a", cs[0].ID)
}
