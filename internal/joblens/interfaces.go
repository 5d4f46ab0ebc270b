package joblens

import (
	"context"
	"time"
)

// Element is one clickable search-result card on the current page.
type Element interface {
	// Text returns the trimmed text content of the first match of selector
	// inside the element, or "" when nothing matches.
	Text(ctx context.Context, selector string) (string, error)
	// Attr returns the named attribute of the first match of selector
	// inside the element. ok is false when the attribute is absent.
	Attr(ctx context.Context, selector, name string) (value string, ok bool, err error)
	// Click triggers the element's primary interaction. The click may open
	// a secondary tab or navigate the primary page in place.
	Click(ctx context.Context) error
}

// TabContext is a transient secondary browsing context (popup tab).
type TabContext interface {
	URL(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Session is the narrow browser-automation contract the core depends on.
// One primary page drives navigation; at most one secondary context may be
// open at a time, scoped to a single resolver call.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Location(ctx context.Context) (string, error)
	Elements(ctx context.Context, selector string) ([]Element, error)
	// WaitForNewContext blocks until a secondary tab opens or the timeout
	// elapses. It returns (nil, nil) when no tab appeared in time.
	WaitForNewContext(ctx context.Context, timeout time.Duration) (TabContext, error)
	CloseContext(ctx context.Context, tab TabContext) error
}

// Resolver turns an ambiguous result link into a concrete destination URL.
type Resolver interface {
	Resolve(ctx context.Context, session Session, element Element) (Resolution, error)
}

// Resolution is the outcome of one resolver call. Failed is set instead of
// returning an error for timeouts and navigation faults; a single
// unresolved link must never stop the crawl.
type Resolution struct {
	URL    string
	Failed bool
}

// SeenStore persists cross-run identity knowledge with TTL-based staleness.
type SeenStore interface {
	IsKnown(key IdentityKey) bool
	// IsKnownProvisional reports whether any known identity shares the
	// candidate's (title, company) pair. It backs the pre-resolution
	// short-circuit that avoids popup interactions for obvious duplicates.
	IsKnownProvisional(key ProvisionalKey) bool
	MarkKnown(key IdentityKey)
	RecordKeywordOutcome(keyword string, found, resolved int)
	Save(profileID string, summary RunSummary) error
}

// Store is the external storage collaborator. Writes have at-least-once
// semantics; no cross-record transactions are assumed.
type Store interface {
	Exists(ctx context.Context, key IdentityKey) (bool, error)
	Upsert(ctx context.Context, record StoredRecord) error
	ReadPending(ctx context.Context, status RecordStatus, limit int) ([]StoredRecord, error)
	UpdateStatus(ctx context.Context, id string, status RecordStatus, fields map[string]any) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for chunk IDs and content identity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (injectable for TTL tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
