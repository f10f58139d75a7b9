package control

import "sync/atomic"

// DefaultCaseID names spooled audio when no case has been selected.
const DefaultCaseID = "default"

// CaseSource holds the active case identifier. Reads are lock-free; the
// controller may switch cases while capture runs and the next spool flush
// picks up the new id.
type CaseSource struct {
	id atomic.Pointer[string]
}

// NewCaseSource returns a source initialised to id, or [DefaultCaseID] when
// id is empty.
func NewCaseSource(id string) *CaseSource {
	c := &CaseSource{}
	c.Set(id)
	return c
}

// Set switches the active case. An empty id resets to [DefaultCaseID].
func (c *CaseSource) Set(id string) {
	if id == "" {
		id = DefaultCaseID
	}
	c.id.Store(&id)
}

// ID returns the active case identifier.
func (c *CaseSource) ID() string {
	if p := c.id.Load(); p != nil {
		return *p
	}
	return DefaultCaseID
}
