package speech

import (
	"context"
	"fmt"
)

const stubTranscript = "48 year old woman with metastatic triple-negative breast cancer, " +
	"progressed after AC-T, currently on pembrolizumab. Good PS, up and about. " +
	"Liver lesions on the last scan, no brain mets. Based in Mumbai."

// Stub serves canned speech results without network access. It enforces the
// same audio floor as the live client so handler validation behaves
// identically in stub mode.
type Stub struct{}

// NewStub creates a speech stub.
func NewStub() *Stub {
	return &Stub{}
}

// Transcribe returns a fixed dictation.
func (s *Stub) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audio) < minAudioBytes {
		return "", fmt.Errorf("%w (%d bytes)", ErrAudioTooShort, len(audio))
	}
	return stubTranscript, nil
}

// Synthesize returns one silent 128kbps MPEG-1 Layer III frame so players
// accept the artifact.
func (s *Stub) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("speech: synthesis text required")
	}
	frame := make([]byte, 417)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0x64})
	return frame, nil
}
