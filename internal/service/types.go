package service

// IssueRequest carries what the service needs to mint a fresh token.
type IssueRequest struct {
	// ClientIP is the requester's address, recorded for diagnostics.
	ClientIP string

	// Prev is an optional previous token id held by the same client.
	// It is deleted opportunistically when a replacement is issued.
	Prev string
}

// IssueResult is a freshly created correlation token.
type IssueResult struct {
	// ID is the token id, the record key in the store.
	ID string

	// Payload is what gets rendered into the QR code: the configured
	// prefix followed by the id.
	Payload string
}

// SweepResult reports one cleanup cycle.
type SweepResult struct {
	// PendingDeleted counts expired never-claimed records removed.
	PendingDeleted int

	// ClaimedDeleted counts claimed records removed after sitting
	// unretrieved for twice the validity window.
	ClaimedDeleted int
}
