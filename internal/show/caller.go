package show

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a caller's position in the show lifecycle. A caller holds
// exactly one status at any time.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusLive     Status = "live"
	StatusRejected Status = "rejected"
)

// Caller is the canonical caller record. All display-facing projections
// (sorted queue, wait times) are derived from it — never the other way
// around.
type Caller struct {
	ID       string
	Name     string
	Contact  string
	JoinedAt time.Time
	Status   Status
	Notes    string
	Priority bool
	Muted    bool

	// seq preserves insertion order; final tie-break for display sorting.
	seq int
}

func newCaller(name, contact string, seq int, now time.Time) *Caller {
	return &Caller{
		ID:       uuid.NewString(),
		Name:     name,
		Contact:  contact,
		JoinedAt: now,
		Status:   StatusWaiting,
		seq:      seq,
	}
}

// WaitTime reports how long the caller has been in the roster, in whole
// minutes. It is always recomputed from JoinedAt and never stored.
func (c *Caller) WaitTime(now time.Time) int {
	d := now.Sub(c.JoinedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// CallerView is the read-only projection handed to the API layer.
type CallerView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Contact     string `json:"contact,omitempty"`
	JoinedAt    int64  `json:"joined_at"`
	Status      Status `json:"status"`
	Notes       string `json:"notes,omitempty"`
	Priority    bool   `json:"priority"`
	Muted       bool   `json:"muted"`
	WaitMinutes int    `json:"wait_minutes"`
}

func (c *Caller) view(now time.Time) CallerView {
	return CallerView{
		ID:          c.ID,
		Name:        c.Name,
		Contact:     c.Contact,
		JoinedAt:    c.JoinedAt.UnixMilli(),
		Status:      c.Status,
		Notes:       c.Notes,
		Priority:    c.Priority,
		Muted:       c.Muted,
		WaitMinutes: c.WaitTime(now),
	}
}

// statusRank orders status tiers for display: live first, then waiting,
// then rejected.
func statusRank(s Status) int {
	switch s {
	case StatusLive:
		return 0
	case StatusWaiting:
		return 1
	default:
		return 2
	}
}

// sortCallers orders the roster for display: status tier, priority within
// the tier, insertion order last.
func sortCallers(cs []*Caller) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra < rb
		}
		if a.Priority != b.Priority {
			return a.Priority
		}
		return a.seq < b.seq
	})
}

func validName(name string) bool {
	return strings.TrimSpace(name) != ""
}
