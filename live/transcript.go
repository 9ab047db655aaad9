package live

import "strings"

// Accumulator merges incremental transcription fragments for one turn. It is
// deliberately unsynchronized: all mutation happens from the session's
// single event-driving goroutine, under the service lock.
type Accumulator struct {
	input  string
	output string
}

// AppendInput appends a source-speech fragment. Appends are monotonic; the
// buffer only grows until the next commit or reset.
func (a *Accumulator) AppendInput(text string) {
	a.input += text
}

// AppendOutput appends a translation fragment.
func (a *Accumulator) AppendOutput(text string) {
	a.output += text
}

// Input returns the source-speech buffer.
func (a *Accumulator) Input() string { return a.input }

// Output returns the translation buffer.
func (a *Accumulator) Output() string { return a.output }

// Reset clears both buffers.
func (a *Accumulator) Reset() {
	a.input, a.output = "", ""
}

// Commit returns the buffered pair iff at least one side has non-whitespace
// content. Both buffers are cleared either way.
func (a *Accumulator) Commit() (user, translation string, ok bool) {
	user, translation = a.input, a.output
	a.Reset()

	if strings.TrimSpace(user) == "" && strings.TrimSpace(translation) == "" {
		return "", "", false
	}
	return user, translation, true
}
