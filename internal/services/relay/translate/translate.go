// Package translate wraps the external translation backend and normalizes
// its failures so callers never see an error, only text.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/polyglot.chat/internal/platform/timeouts"
)

// Translator converts text to the target language code.
type Translator interface {
	Translate(ctx context.Context, text string, targetCode string) (string, error)
}

// HTTPTranslator calls a LibreTranslate-style HTTP endpoint.
type HTTPTranslator struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTranslator builds a translator against the given base URL. It
// returns nil when the URL is empty so the gateway degrades to echoing.
func NewHTTPTranslator(baseURL string) *HTTPTranslator {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	return &HTTPTranslator{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeouts.TranslateRequest,
		},
	}
}

type translateRequest struct {
	Text   string `json:"q"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate posts the text to the backend and returns the translated copy.
func (t *HTTPTranslator) Translate(ctx context.Context, text string, targetCode string) (string, error) {
	if t == nil || t.httpClient == nil {
		return "", errors.New("translator is not configured")
	}

	body, err := json.Marshal(translateRequest{Text: text, Target: targetCode})
	if err != nil {
		return "", fmt.Errorf("encode translation request: %w", err)
	}

	endpoint := t.baseURL + "/translate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call translation backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translation backend status %d", resp.StatusCode)
	}

	var payload translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	if strings.TrimSpace(payload.TranslatedText) == "" {
		return "", errors.New("translation backend returned empty text")
	}
	return payload.TranslatedText, nil
}

// Gateway bounds and absorbs translator failures. Every call returns text:
// the translated copy on success, the original input otherwise.
type Gateway struct {
	translator Translator
	timeout    time.Duration
}

// NewGateway wraps a translator. A nil translator yields a gateway that
// echoes input. A non-positive timeout falls back to the shared default.
func NewGateway(translator Translator, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = timeouts.TranslateRequest
	}
	return &Gateway{translator: translator, timeout: timeout}
}

// NewGatewayFromURL builds a gateway for the configured backend base URL.
// An empty URL yields pure echo mode: the nil check happens here so the
// gateway holds a nil interface, not a typed-nil *HTTPTranslator.
func NewGatewayFromURL(baseURL string, timeout time.Duration) *Gateway {
	translator := NewHTTPTranslator(baseURL)
	if translator == nil {
		return NewGateway(nil, timeout)
	}
	return NewGateway(translator, timeout)
}

// Translate returns text in the target language, or the original text when
// the backend fails, hangs, or is not configured.
func (g *Gateway) Translate(ctx context.Context, text string, targetCode string) string {
	if g == nil || g.translator == nil {
		return text
	}
	targetCode = strings.TrimSpace(targetCode)
	if targetCode == "" {
		return text
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	// The wait is bounded here as well as in the HTTP client so that a
	// misbehaving Translator implementation cannot stall a delivery.
	results := make(chan outcome, 1)
	go func() {
		translated, err := g.translator.Translate(callCtx, text, targetCode)
		results <- outcome{text: translated, err: err}
	}()

	select {
	case <-callCtx.Done():
		log.Printf("relay: translation to %s timed out, using original text", targetCode)
		return text
	case result := <-results:
		if result.err != nil {
			log.Printf("relay: translation to %s failed, using original text: %v", targetCode, result.err)
			return text
		}
		if strings.TrimSpace(result.text) == "" {
			return text
		}
		return result.text
	}
}
