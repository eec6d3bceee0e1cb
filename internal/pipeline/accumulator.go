package pipeline

import "strings"

// NewCodeRequest is a listing SKU for which no substitute code exists yet.
type NewCodeRequest struct {
	SKU         string
	Description string
}

// Accumulator collects NewCodeRequests, unique by SKU, across runs. Callers
// own it: Run copies the one it is given and returns the extended copy.
type Accumulator struct {
	seen     map[string]bool
	requests []NewCodeRequest
}

func NewAccumulator() *Accumulator {
	return &Accumulator{seen: map[string]bool{}}
}

// Add records r unless its SKU is blank or already present.
func (a *Accumulator) Add(r NewCodeRequest) bool {
	key := strings.TrimSpace(r.SKU)
	if key == "" || a.seen[key] {
		return false
	}
	a.seen[key] = true
	a.requests = append(a.requests, r)
	return true
}

// Requests returns the collected requests in insertion order.
func (a *Accumulator) Requests() []NewCodeRequest {
	return append([]NewCodeRequest(nil), a.requests...)
}

func (a *Accumulator) Len() int { return len(a.requests) }

// Clone returns an independent copy; a nil receiver yields an empty one.
func (a *Accumulator) Clone() *Accumulator {
	out := NewAccumulator()
	if a == nil {
		return out
	}
	for _, r := range a.requests {
		out.Add(r)
	}
	return out
}
