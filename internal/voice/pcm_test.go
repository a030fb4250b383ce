package voice

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestEncodeSamplesLittleEndian(t *testing.T) {
	encoded := EncodeSamples([]int16{0x0102, -2})
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []byte{0x02, 0x01, 0xFE, 0xFF}
	if len(raw) != len(want) {
		t.Fatalf("raw = %v, want %v", raw, want)
	}
	for i := range want {
		if raw[i] != want[i] {
			t.Errorf("byte[%d] = %#x, want %#x", i, raw[i], want[i])
		}
	}
}

func TestDecodeChunk(t *testing.T) {
	raw, err := DecodeChunk(base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("DecodeChunk error = %v", err)
	}
	if len(raw) != 4 {
		t.Errorf("len = %d, want 4", len(raw))
	}

	if _, err := DecodeChunk("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}

	odd := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if _, err := DecodeChunk(odd); err == nil {
		t.Error("expected error for odd-length chunk")
	}
}

func TestChunkDuration(t *testing.T) {
	tests := []struct {
		name       string
		bytes      int
		sampleRate int
		want       time.Duration
	}{
		{"one second upstream", UpstreamSampleRate * 2, UpstreamSampleRate, time.Second},
		{"one second downstream", DownstreamSampleRate * 2, DownstreamSampleRate, time.Second},
		{"half second downstream", DownstreamSampleRate, DownstreamSampleRate, 500 * time.Millisecond},
		{"empty chunk", 0, DownstreamSampleRate, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChunkDuration(make([]byte, tt.bytes), tt.sampleRate); got != tt.want {
				t.Errorf("ChunkDuration = %v, want %v", got, tt.want)
			}
		})
	}
}
