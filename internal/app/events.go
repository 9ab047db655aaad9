// Package app provides the core application service for Wails bindings.
package app

// Event names for frontend communication.
const (
	EventLiveCaptions  = "live-captions"
	EventLiveState     = "live-state"
	EventHistoryAdded  = "history-added"
	EventError         = "app-error"
	EventAccessibility = "accessibility-permission"
)
