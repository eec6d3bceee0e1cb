package ratings

import (
	"errors"
	"fmt"
	"time"
)

// Rating is one star bucket of a product's reviews.
type Rating struct {
	Rating int `json:"rating"`
	Count  int `json:"count"`
}

type ratingsResponse struct {
	Ratings []Rating `json:"ratings"`
}

// MinQualifying returns the lowest star value in {1,2,3} that has at least
// one vote. ok is false when no bucket qualifies.
func MinQualifying(ratings []Rating) (lowest int, ok bool) {
	for _, r := range ratings {
		if r.Rating < 1 || r.Rating > 3 || r.Count <= 0 {
			continue
		}
		if !ok || r.Rating < lowest {
			lowest, ok = r.Rating, true
		}
	}
	return lowest, ok
}

// Outcome classifies a per-identifier fetch.
type Outcome int

const (
	// Found means ratings were returned.
	Found Outcome = iota
	// Absent means the product has no rating data, or retries ran out.
	Absent
	// Failed means an unexpected status or transport error; no ratings.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Absent:
		return "absent"
	default:
		return "failed"
	}
}

// Result is the typed per-row outcome of Fetch.
type Result struct {
	EAN     string
	Outcome Outcome
	Ratings []Rating
	// Backoff is the total time spent waiting on 429 responses.
	Backoff time.Duration
	Err     error
}

// ErrInvalidIdentifier is reported for EANs that do not parse as integers.
var ErrInvalidIdentifier = errors.New("identifier is not numeric")

// StatusError is a non-200 response from the ratings endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ratings request failed with status %d: %s", e.StatusCode, e.Body)
}

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
