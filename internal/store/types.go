package store

import "time"

// Recipient is a platform end-user recorded via a successful join-request
// approval. Recipients are never deleted; their approved-channel set only
// grows.
type Recipient struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	FirstSeen time.Time
}

// Channel is a managed group/community the bot approves join requests for.
type Channel struct {
	ID        int64
	Title     string
	FirstSeen time.Time
}

// BroadcastRun is the persisted summary of one completed broadcast.
type BroadcastRun struct {
	OperatorID   int64
	Kind         string // "text" | "photo" | "video"
	SentAt       time.Time
	Total        int
	Successful   int
	Blocked      int
	Deleted      int
	Unsuccessful int
}

// RunTotals aggregates all persisted runs.
type RunTotals struct {
	Runs         int64
	Total        int64
	Successful   int64
	Blocked      int64
	Deleted      int64
	Unsuccessful int64
}
