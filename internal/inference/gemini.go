package inference

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/yok-tottii/genie/internal/domain"
)

// GeminiConfig holds transport settings for the Gemini API
type GeminiConfig struct {
	// BaseURL overrides the API endpoint, for tests and proxies
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DefaultGeminiConfig returns the v1beta endpoint with a 60s request timeout
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{APIVersion: "v1beta", Timeout: 60 * time.Second}
}

// GeminiGenerator calls generateContent through the genai SDK. One SDK
// client is kept per API key.
type GeminiGenerator struct {
	config GeminiConfig

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiGenerator creates a generator
func NewGeminiGenerator(config GeminiConfig) *GeminiGenerator {
	if config.APIVersion == "" {
		config.APIVersion = DefaultGeminiConfig().APIVersion
	}
	if config.HTTPClient == nil {
		tr := &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		}
		config.HTTPClient = &http.Client{Transport: tr}
	}
	return &GeminiGenerator{config: config, clients: make(map[string]*genai.Client)}
}

func (g *GeminiGenerator) client(ctx context.Context, credential string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[credential]; ok {
		return c, nil
	}

	opts := genai.HTTPOptions{BaseURL: g.config.BaseURL, APIVersion: g.config.APIVersion}
	if g.config.Timeout > 0 {
		timeout := g.config.Timeout
		opts.Timeout = &timeout
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      credential,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  g.config.HTTPClient,
		HTTPOptions: opts,
	})
	if err != nil {
		return nil, err
	}
	g.clients[credential] = c
	return c, nil
}

// Generate sends one generateContent request and returns the first text part
// of the first candidate
func (g *GeminiGenerator) Generate(ctx context.Context, credential, model string, parts []Part) (string, error) {
	c, err := g.client(ctx, credential)
	if err != nil {
		return "", domain.NewError(domain.KindProviderRequestFailed, "API request failed", err)
	}

	contents := []*genai.Content{{Role: "user", Parts: toGenaiParts(parts)}}
	resp, err := c.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", domain.NewError(domain.KindProviderRequestFailed, providerMessage(err), err)
	}

	text, err := firstText(resp)
	if err != nil {
		return "", domain.NewError(domain.KindProviderRequestFailed, "Malformed response", err)
	}
	return text, nil
}

func toGenaiParts(parts []Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.Blob != nil {
			out = append(out, &genai.Part{InlineData: &genai.Blob{Data: p.Blob.Data, MIMEType: p.Blob.MIMEType}})
			continue
		}
		out = append(out, &genai.Part{Text: p.Text})
	}
	return out
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 || cand.Content.Parts[0] == nil {
		return "", fmt.Errorf("candidate has no content (finish reason %q)", cand.FinishReason)
	}
	first := cand.Content.Parts[0]
	if first.Text == "" {
		return "", errors.New("first part has no text")
	}
	return first.Text, nil
}

// providerMessage extracts error.message from the provider's error body
func providerMessage(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Message != "" {
		return apiErrPtr.Message
	}
	return "API request failed"
}
