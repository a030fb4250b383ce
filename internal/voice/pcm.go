// Package voice implements the real-time audio path: PCM chunk handling,
// the gap-free playout scheduler, transcript accumulation, and the duplex
// websocket session against the live generative backend.
//
// All audio crosses process boundaries as base64-encoded 16-bit
// little-endian PCM. Microphone capture is 16kHz mono; synthesized speech
// comes back at 24kHz mono.
package voice

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// UpstreamSampleRate is the microphone capture rate sent to the backend.
	UpstreamSampleRate = 16000
	// DownstreamSampleRate is the rate of synthesized speech from the backend.
	DownstreamSampleRate = 24000

	bytesPerSample = 2
)

// UpstreamMIME and DownstreamMIME are the wire MIME types for the two
// directions of the audio stream.
const (
	UpstreamMIME   = "audio/pcm;rate=16000"
	DownstreamMIME = "audio/pcm;rate=24000"
)

// EncodeSamples packs 16-bit samples as little-endian bytes and encodes
// them as base64 for transport.
func EncodeSamples(samples []int16) string {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*bytesPerSample:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeChunk decodes a base64 PCM chunk into raw bytes. A chunk with an
// odd byte count is rejected: it cannot be a whole number of samples.
func DecodeChunk(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio chunk: %w", err)
	}
	if len(raw)%bytesPerSample != 0 {
		return nil, fmt.Errorf("audio chunk has odd length %d", len(raw))
	}
	return raw, nil
}

// ChunkDuration computes the playout duration of a raw PCM chunk at the
// given sample rate.
func ChunkDuration(raw []byte, sampleRate int) time.Duration {
	samples := len(raw) / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
