package flush

import (
	"sort"
	"time"

	"github.com/auth-platform/savecache-service/internal/save"
)

// Failure records one entry that could not be persisted.
type Failure struct {
	SaveID  string `json:"saveId"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// Report describes one drain pass of one kind.
type Report struct {
	Kind      save.Kind     `json:"kind"`
	Attempted int           `json:"attempted"`
	Persisted int           `json:"persisted"`
	Evicted   int           `json:"evicted"`
	Failures  []Failure     `json:"failures,omitempty"`
	Duration  time.Duration `json:"durationNs"`
}

// OK reports whether every attempted entry was persisted.
func (r Report) OK() bool {
	return len(r.Failures) == 0
}

func (r *Report) fail(saveID string, err error) {
	r.Failures = append(r.Failures, Failure{SaveID: saveID, Message: err.Error(), Err: err})
}

func (r *Report) sortFailures() {
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].SaveID < r.Failures[j].SaveID })
}

// Summary aggregates the reports of a FlushAll pass.
type Summary struct {
	Reports  []Report      `json:"reports"`
	Duration time.Duration `json:"durationNs"`
}

// Persisted returns the number of entries persisted across kinds.
func (s Summary) Persisted() int {
	n := 0
	for _, r := range s.Reports {
		n += r.Persisted
	}
	return n
}

// Failed returns the number of failed entries across kinds.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Reports {
		n += len(r.Failures)
	}
	return n
}

// OK reports whether no entry failed.
func (s Summary) OK() bool {
	return s.Failed() == 0
}

// Report returns the report of kind.
func (s Summary) Report(kind save.Kind) (Report, bool) {
	for _, r := range s.Reports {
		if r.Kind == kind {
			return r, true
		}
	}
	return Report{}, false
}
