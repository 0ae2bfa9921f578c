package sources

import (
	"sort"
	"strings"

	"cloud.google.com/go/civil"
)

type erasureKey struct {
	date  civil.Date
	jobID string
}

// DedupErasures flags repeated reports of the same job on the same day. The
// first successful event for a (date, job_id) is canonical; when the job
// never succeeded, its first failure is. Events without a job id are never
// flagged. The result is ordered by timestamp and the input is not
// modified.
func DedupErasures(events []ErasureEvent) []ErasureEvent {
	out := make([]ErasureEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	canonical := make(map[erasureKey]int, len(out))
	for i := range out {
		out[i].Duplicate = false
		if strings.TrimSpace(out[i].JobID) == "" {
			continue
		}
		key := erasureKey{out[i].Date, out[i].JobID}
		first, seen := canonical[key]
		if !seen {
			canonical[key] = i
			continue
		}
		if out[first].Status != StatusSuccess && out[i].Status == StatusSuccess {
			out[first].Duplicate = true
			canonical[key] = i
			continue
		}
		out[i].Duplicate = true
	}
	return out
}

type scanKey struct {
	date    civil.Date
	stockID string
	kind    SubmissionKind
}

// DedupQAScans keeps only the first scan of a device per kind per day as
// countable and flags the rest as resubmissions. Scans without a stock id
// are never flagged. The result is ordered by timestamp and the input is not
// modified.
func DedupQAScans(events []QAScanEvent) []QAScanEvent {
	out := make([]QAScanEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	seen := make(map[scanKey]struct{}, len(out))
	for i := range out {
		out[i].Resubmission = false
		id := strings.TrimSpace(out[i].StockID)
		if id == "" {
			continue
		}
		key := scanKey{out[i].Date, strings.ToUpper(id), out[i].Kind}
		if _, dup := seen[key]; dup {
			out[i].Resubmission = true
			continue
		}
		seen[key] = struct{}{}
	}
	return out
}

// ManagerExclusion removes manager accounts from technician-level figures.
// Matching ignores case and surrounding space.
type ManagerExclusion struct {
	accounts map[string]struct{}
}

func NewManagerExclusion(accounts ...string) *ManagerExclusion {
	m := &ManagerExclusion{accounts: make(map[string]struct{}, len(accounts))}
	m.Add(accounts...)
	return m
}

func (m *ManagerExclusion) Add(accounts ...string) {
	for _, a := range accounts {
		if a = normalizeAccount(a); a != "" {
			m.accounts[a] = struct{}{}
		}
	}
}

func (m *ManagerExclusion) Excludes(account string) bool {
	if m == nil {
		return false
	}
	_, ok := m.accounts[normalizeAccount(account)]
	return ok
}

// Apply returns a copy of events with Excluded set for manager accounts.
func (m *ManagerExclusion) Apply(events []QAScanEvent) []QAScanEvent {
	out := make([]QAScanEvent, len(events))
	copy(out, events)
	for i := range out {
		out[i].Excluded = m.Excludes(out[i].Technician)
	}
	return out
}

func normalizeAccount(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
