// Package joblens defines core types shared across subsystems.
package joblens

import (
	"time"
)

// Candidate is one discovered search result before link resolution.
// It is ephemeral and owned by the orchestrator until resolved.
type Candidate struct {
	RawTitle     string `json:"raw_title"`
	RawLink      string `json:"raw_link"`
	CompanyHint  string `json:"company_hint"`
	LocationHint string `json:"location_hint"`
	SalaryHint   string `json:"salary_hint,omitempty"`
}

// Posting is a Candidate whose destination URL has been resolved.
// A posting is final once FinalURL is absolute and non-placeholder. When
// resolution failed the posting is still emitted for visibility but is
// excluded from the dedup identity set.
type Posting struct {
	Candidate
	FinalURL         string    `json:"final_url"`
	ResolvedAt       time.Time `json:"resolved_at"`
	ResolutionFailed bool      `json:"resolution_failed,omitempty"`

	// Keyword records which search term surfaced this posting.
	Keyword string `json:"keyword,omitempty"`
	// Description and Score are filled by enrichment stages.
	Description string `json:"description,omitempty"`
	Score       int    `json:"score,omitempty"`
}

// IdentityKey decides whether two discovered postings are the same job.
type IdentityKey struct {
	Title   string `json:"title"`
	Company string `json:"company"`
	URL     string `json:"url"`
}

// ProvisionalKey is the pre-resolution identity used to short-circuit
// duplicate candidates before any popup interaction happens. It compares
// only title and company, which trades recall for fewer browser round
// trips; see Config.ProvisionalDedup.
type ProvisionalKey struct {
	Title   string `json:"title"`
	Company string `json:"company"`
}

// Identity computes the full identity key for a resolved posting.
func (p Posting) Identity() IdentityKey {
	return IdentityKey{
		Title:   NormalizeText(p.RawTitle),
		Company: NormalizeText(p.CompanyHint),
		URL:     p.FinalURL,
	}
}

// Provisional computes the pre-resolution key for a candidate.
func (c Candidate) Provisional() ProvisionalKey {
	return ProvisionalKey{
		Title:   NormalizeText(c.RawTitle),
		Company: NormalizeText(c.CompanyHint),
	}
}

// RecordStatus is the lifecycle state of a posting in the storage collaborator.
type RecordStatus string

// Record status values persisted by the store.
const (
	StatusPending  RecordStatus = "pending"
	StatusEnriched RecordStatus = "enriched"
	StatusFailed   RecordStatus = "failed"
)

// StoredRecord is the row shape exchanged with the storage collaborator.
type StoredRecord struct {
	ID           string       `json:"id"`
	Identity     IdentityKey  `json:"identity"`
	Title        string       `json:"title"`
	Company      string       `json:"company"`
	Location     string       `json:"location"`
	Salary       string       `json:"salary,omitempty"`
	URL          string       `json:"url"`
	Description  string       `json:"description,omitempty"`
	Score        int          `json:"score"`
	Status       RecordStatus `json:"status"`
	DiscoveredAt time.Time    `json:"discovered_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// RunSummary is reported at the end of every crawl run, even when
// individual pages or links failed along the way.
type RunSummary struct {
	RunID              string        `json:"run_id"`
	Keywords           []string      `json:"keywords"`
	PagesVisited       int           `json:"pages_visited"`
	Discovered         int           `json:"discovered"`
	Resolved           int           `json:"resolved"`
	SkippedKnown       int           `json:"skipped_known"`
	ResolutionFailures int           `json:"resolution_failures"`
	Elapsed            time.Duration `json:"elapsed"`
	StartedAt          time.Time     `json:"started_at"`
}
