// Package speech wraps the OpenAI-compatible audio endpoints: Whisper-style
// transcription for dictated case notes and text-to-speech for the daily
// radar briefing. A deterministic Stub serves stub mode.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// minAudioBytes is the smallest upload accepted for transcription. Anything
// below it is a misfired recording of well under a second.
const minAudioBytes = 1000

// ErrAudioTooShort is returned when the uploaded audio is below the
// transcription floor. Handlers map it to a client error.
var ErrAudioTooShort = errors.New("speech: audio too short, record for at least a second or two")

// Config holds speech client settings. Zero values select defaults.
type Config struct {
	BaseURL         string
	APIKey          string
	TranscribeModel string
	TTSModel        string
	TTSVoice        string
	Timeout         time.Duration
}

// Client talks to the audio endpoints over HTTP.
type Client struct {
	baseURL         string
	apiKey          string
	transcribeModel string
	ttsModel        string
	ttsVoice        string
	httpClient      *http.Client
	logger          zerolog.Logger
}

// NewClient creates a speech client. The API key is required; the ai text
// client and this one share the same credential.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("speech: api key required")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	transcribeModel := cfg.TranscribeModel
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}
	ttsModel := cfg.TTSModel
	if ttsModel == "" {
		ttsModel = "tts-1"
	}
	ttsVoice := cfg.TTSVoice
	if ttsVoice == "" {
		ttsVoice = "alloy"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		// Synthesis of a full briefing script takes a while.
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		transcribeModel: transcribeModel,
		ttsModel:        ttsModel,
		ttsVoice:        ttsVoice,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "speech").Logger(),
	}, nil
}

// Transcribe sends the audio to the transcription endpoint and returns the
// recognized text. filename carries the container hint (webm, mp3, wav);
// empty defaults to audio.webm.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) < minAudioBytes {
		return "", fmt.Errorf("%w (%d bytes)", ErrAudioTooShort, len(audio))
	}
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("speech: build form: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("speech: build form: %w", err)
	}
	mw.WriteField("model", c.transcribeModel)
	mw.WriteField("language", "en")
	mw.WriteField("response_format", "text")
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("speech: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.send(req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(body))
	c.logger.Debug().Int("audio_bytes", len(audio)).Int("chars", len(text)).Msg("transcription complete")
	return text, nil
}

// Synthesize converts the script to MP3 audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("speech: synthesis text required")
	}

	payload, err := json.Marshal(map[string]string{
		"model":           c.ttsModel,
		"voice":           c.ttsVoice,
		"input":           text,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("speech: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.send(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Int("script_chars", len(text)).Int("audio_bytes", len(body)).Msg("synthesis complete")
	return body, nil
}

// send executes the request and returns the 2xx body.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read at most 1KB of the error body.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("speech: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read response: %w", err)
	}
	return body, nil
}
