package live

import "go.mozhi.app/mozhi/pcm"

// Wire messages for the bidirectional streaming session. The first client
// message is the session setup; every following outbound message carries one
// encoded audio frame.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  struct{}         `json:"inputAudioTranscription"`
	OutputAudioTranscription struct{}         `json:"outputAudioTranscription"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Media pcm.Frame `json:"media"`
}

// ServerMessage is one inbound event from the session. Exactly one of the
// pointer fields is set per message, except that ServerContent may carry
// transcription fragments and turn completion together; fragments are
// processed before the completion flag.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// SetupComplete signals the session is ready for audio frames.
type SetupComplete struct{}

// ServerContent carries incremental transcription results.
type ServerContent struct {
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

// Transcription is a partial-text fragment.
type Transcription struct {
	Text string `json:"text"`
}

// GoAway announces the server will close the connection soon.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}
