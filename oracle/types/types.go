package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// PendingRequest is a single request record read from the oracle contract.
// Fields holds the complete raw record, so members other than request_spec
// pass through untouched.
type PendingRequest struct {
	ID          string
	RequestSpec string
	HasSpec     bool
	Fields      json.RawMessage
}

// RequestSet is the set of pending requests of one poll cycle, kept in the
// order the contract returned them.
type RequestSet struct {
	requests []PendingRequest
	index    map[string]int
}

// NewRequestSet returns an empty set with room for n requests.
func NewRequestSet(n int) *RequestSet {
	return &RequestSet{
		requests: make([]PendingRequest, 0, n),
		index:    make(map[string]int, n),
	}
}

// Add appends a request. Identifiers must be unique within a set.
func (rs *RequestSet) Add(req PendingRequest) error {
	if _, ok := rs.index[req.ID]; ok {
		return fmt.Errorf("duplicate request id %q", req.ID)
	}

	rs.index[req.ID] = len(rs.requests)
	rs.requests = append(rs.requests, req)

	return nil
}

func (rs *RequestSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.requests)
}

func (rs *RequestSet) Get(id string) (PendingRequest, bool) {
	if rs == nil {
		return PendingRequest{}, false
	}

	i, ok := rs.index[id]
	if !ok {
		return PendingRequest{}, false
	}

	return rs.requests[i], true
}

// Requests returns a copy of the requests in insertion order.
func (rs *RequestSet) Requests() []PendingRequest {
	if rs == nil {
		return nil
	}
	return append([]PendingRequest(nil), rs.requests...)
}

// IDs returns the request identifiers in insertion order.
func (rs *RequestSet) IDs() []string {
	if rs == nil {
		return nil
	}

	ids := make([]string, 0, len(rs.requests))
	for _, req := range rs.requests {
		ids = append(ids, req.ID)
	}

	return ids
}

// MatchResult is either Found(ID) or NotFound.
type MatchResult struct {
	ID    string
	Found bool
}

var NotFound = MatchResult{}

func Found(id string) MatchResult {
	return MatchResult{ID: id, Found: true}
}

func (m MatchResult) String() string {
	if !m.Found {
		return "NotFound"
	}
	return fmt.Sprintf("Found(%s)", m.ID)
}

// CycleResult is what the scheduling loop reports for every poll cycle.
type CycleResult struct {
	Seq       uint64
	StartedAt time.Time
	Duration  time.Duration
	Requests  int
	Match     MatchResult
	Err       error
}

func (cr CycleResult) OK() bool {
	return cr.Err == nil
}
