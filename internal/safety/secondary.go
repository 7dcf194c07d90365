//go:generate go run go.uber.org/mock/mockgen -source=secondary.go -destination=../mocks/mock_secondary.go -package=mocks

package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SecondaryClassifier is the slower, external opinion consulted for
// medium-risk input. It receives only the raw message text.
type SecondaryClassifier interface {
	Classify(ctx context.Context, text string) (Level, error)
}

// HTTPClassifier calls a JSON endpoint:
//
//	POST {url}  {"text": "..."}  ->  200 {"risk_level": "low|medium|high"}
type HTTPClassifier struct {
	url    string
	client *http.Client
}

func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	RiskLevel string `json:"risk_level"`
}

func (h *HTTPClassifier) Classify(ctx context.Context, text string) (Level, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("safety: encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("safety: build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("safety: classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("safety: classify: unexpected status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", fmt.Errorf("safety: decode classify response: %w", err)
	}
	return ParseLevel(out.RiskLevel)
}
