// Package matching implements the in-memory waiting pool and the pairwise
// compatibility matcher. The pool is a FIFO-ordered slice of entries, one per
// waiting connection; the matcher scans it for the first compatible pair and
// keeps rescanning until no pair remains.
//
// All state is process-local and unprotected by design — callers serialize
// access (the hub holds its lock across every pool mutation and scan).
package matching

import "strings"

// Gender values accepted on queue:join.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// Entry is one connection's matchmaking intent.
type Entry struct {
	ConnID string
	Email  string
	Name   string
	Age    int
	Gender string
	Pref   string // "male", "female" or anything else meaning both
}

// acceptedSet returns the set of genders an entry accepts in a partner.
// "male" and "female" are exact; "both", empty, and anything unrecognized
// accept everyone.
func acceptedSet(pref string) map[string]bool {
	switch strings.ToLower(pref) {
	case GenderMale:
		return map[string]bool{GenderMale: true}
	case GenderFemale:
		return map[string]bool{GenderFemale: true}
	default:
		return map[string]bool{GenderMale: true, GenderFemale: true, GenderOther: true}
	}
}

// Compatible reports whether u and v accept each other's gender. The relation
// is symmetric but not transitive.
func Compatible(u, v Entry) bool {
	return acceptedSet(u.Pref)[strings.ToLower(v.Gender)] &&
		acceptedSet(v.Pref)[strings.ToLower(u.Gender)]
}

// Pair is a matched couple removed from the pool. A queued before B, so A is
// designated the signaling initiator.
type Pair struct {
	A Entry
	B Entry
}

// Pool is the ordered collection of waiting entries.
type Pool struct {
	entries []Entry
}

// NewPool creates an empty waiting pool.
func NewPool() *Pool {
	return &Pool{}
}

// Len returns the number of waiting entries.
func (p *Pool) Len() int {
	return len(p.entries)
}

// Contains reports whether a connection id is currently waiting.
func (p *Pool) Contains(connID string) bool {
	return p.indexOf(connID) >= 0
}

// Enqueue appends an entry to the pool. Any existing entry for the same
// connection id is removed first, so a re-join replaces the prior intent and
// moves the connection to the back of the queue.
func (p *Pool) Enqueue(e Entry) {
	p.Dequeue(e.ConnID)
	p.entries = append(p.entries, e)
}

// Dequeue removes the entry for connID if present. Removing an absent id is
// a no-op, so the call is idempotent.
func (p *Pool) Dequeue(connID string) bool {
	ix := p.indexOf(connID)
	if ix < 0 {
		return false
	}
	p.entries = append(p.entries[:ix], p.entries[ix+1:]...)
	return true
}

// Scan repeatedly searches the pool for the first compatible pair in queue
// order (earliest i, then earliest j), removes both, and records the pair.
// After each removal the search restarts against the mutated pool, iterating
// rather than recursing so a large pool cannot grow the stack. Scan returns
// when no compatible pair remains; with fewer than two entries it returns
// immediately.
func (p *Pool) Scan() []Pair {
	var pairs []Pair

	for {
		i, j := p.firstCompatible()
		if i < 0 {
			return pairs
		}

		a, b := p.entries[i], p.entries[j]
		// Remove the higher index first so the lower one stays valid.
		p.entries = append(p.entries[:j], p.entries[j+1:]...)
		p.entries = append(p.entries[:i], p.entries[i+1:]...)

		pairs = append(pairs, Pair{A: a, B: b})
	}
}

// firstCompatible returns the indices of the first compatible pair in scan
// order, or (-1, -1) if none exists.
func (p *Pool) firstCompatible() (int, int) {
	for i := 0; i < len(p.entries); i++ {
		for j := i + 1; j < len(p.entries); j++ {
			if Compatible(p.entries[i], p.entries[j]) {
				return i, j
			}
		}
	}
	return -1, -1
}

func (p *Pool) indexOf(connID string) int {
	for i, e := range p.entries {
		if e.ConnID == connID {
			return i
		}
	}
	return -1
}
