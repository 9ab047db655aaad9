// Package pcm converts normalized audio samples into wire-ready payloads.
package pcm

import "encoding/base64"

const (
	// SampleRate is the capture sample rate the service expects.
	SampleRate = 16000

	// MIMEType is the fixed media descriptor sent with every frame.
	MIMEType = "audio/pcm;rate=16000"
)

// Frame is one block of little-endian 16-bit PCM, base64-encoded for the
// wire. The decoded byte length is always twice the source sample count.
type Frame struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Encode scales each sample by 32768 and truncates toward zero into a signed
// 16-bit container. There is no saturation: values outside [-1, 1] wrap via
// two's-complement truncation, which the int32 intermediate makes
// deterministic. An empty input yields an empty payload.
func Encode(samples []float32) Frame {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := uint16(int16(int32(s * 32768)))
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(v >> 8)
	}
	return Frame{
		MIMEType: MIMEType,
		Data:     base64.StdEncoding.EncodeToString(buf),
	}
}
