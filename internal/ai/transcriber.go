package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrEmptyTranscript = errors.New("empty transcript")

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// HTTPTranscriber posts audio files to an OpenAI-compatible
// /audio/transcriptions endpoint.
type HTTPTranscriber struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Client   *http.Client
}

func (h HTTPTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 60 * time.Second}
	}
	f, err := os.Open(audioPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	_ = w.WriteField("model", h.Model)
	if h.Language != "" {
		_ = w.WriteField("language", h.Language)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	url := strings.TrimRight(h.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription http error: %s", resp.Status)
	}

	var r struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
