// Package types provides shared type definitions for the application.
package types

// HistoryRecord is one finalized (source speech, translation) pair.
// Records are immutable once appended to the history log.
type HistoryRecord struct {
	ID          string `json:"id"`
	User        string `json:"user"`
	Translation string `json:"translation"`
	SourceLang  string `json:"sourceLang,omitempty"`
	CreatedAt   int64  `json:"createdAt"` // Unix timestamp in milliseconds
}

// Captions mirrors the in-progress transcript buffers for the UI.
type Captions struct {
	Input  string `json:"input"`  // source speech so far in the current turn
	Output string `json:"output"` // translation so far in the current turn
}

// Status represents the application state shown by the frontend.
type Status struct {
	Recording    bool   `json:"recording"`
	Busy         bool   `json:"busy"` // one-shot file transcription in flight
	SessionState string `json:"sessionState"`
	LastError    string `json:"lastError"`
	HistoryCount int    `json:"historyCount"`
}
