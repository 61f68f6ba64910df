package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ImageScore is the bounded output of an external visual classifier.
type ImageScore struct {
	NSFW         float64 `json:"nsfw_score"`
	Gore         float64 `json:"gore_score"`
	ModelVersion string  `json:"model_version,omitempty"`
}

// ImageScorer scores a stored media object. Production implementations
// call an external model service; the core only depends on this interface.
type ImageScorer interface {
	Score(ctx context.Context, mediaKey string) (ImageScore, error)
}

// TextExtractor pulls text out of a stored media object (OCR).
type TextExtractor interface {
	Extract(ctx context.Context, mediaKey string) (string, error)
}

// StubScorer returns neutral scores. Used when no scorer service is
// configured.
type StubScorer struct{}

func (StubScorer) Score(ctx context.Context, mediaKey string) (ImageScore, error) {
	return ImageScore{}, nil
}

// StubExtractor returns no text.
type StubExtractor struct{}

func (StubExtractor) Extract(ctx context.Context, mediaKey string) (string, error) {
	return "", nil
}

// HTTPScorer calls a JSON scoring service. The request context carries the
// suite's bounded timeout; a slow scorer degrades the signal instead of
// stalling the pipeline.
type HTTPScorer struct {
	URL    string
	Client *http.Client
}

var _ ImageScorer = (*HTTPScorer)(nil)

func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPScorer) Score(ctx context.Context, mediaKey string) (ImageScore, error) {
	body, err := json.Marshal(map[string]string{"media_key": mediaKey})
	if err != nil {
		return ImageScore{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return ImageScore{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return ImageScore{}, fmt.Errorf("scoring %s: %w", mediaKey, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ImageScore{}, fmt.Errorf("scorer returned %d", resp.StatusCode)
	}

	var score ImageScore
	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return ImageScore{}, fmt.Errorf("decoding score: %w", err)
	}
	return score, nil
}

// HTTPExtractor calls a JSON OCR service.
type HTTPExtractor struct {
	URL    string
	Client *http.Client
}

var _ TextExtractor = (*HTTPExtractor)(nil)

func NewHTTPExtractor(url string) *HTTPExtractor {
	return &HTTPExtractor{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, mediaKey string) (string, error) {
	body, err := json.Marshal(map[string]string{"media_key": mediaKey})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", mediaKey, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr returned %d", resp.StatusCode)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding ocr response: %w", err)
	}
	return out.Text, nil
}
