// Package inference sends text, audio and image questions to a generative
// model, falling back across API keys and models until one answers.
package inference

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/logger"
)

// DefaultModels are tried, in order, after the preferred model
var DefaultModels = []string{"gemini-2.0-flash-exp", "gemini-1.5-flash-latest", "gemini-1.5-flash"}

const (
	msgNoCredentials = "No valid API key provided."
	msgExhausted     = "All keys and models failed. Please check your API keys."
)

// Blob is an inline binary payload
type Blob struct {
	Data     []byte
	MIMEType string
}

// Request is one question. Any combination of fields may be set.
type Request struct {
	Text  string
	Audio *Blob
	Image *Blob
}

// Modality reports which payload drives the prompt suffix
func (r Request) Modality() domain.Modality {
	switch {
	case r.Audio != nil:
		return domain.ModalityAudio
	case r.Image != nil:
		return domain.ModalityImage
	default:
		return domain.ModalityText
	}
}

// Part is one element of the request content, either text or a blob
type Part struct {
	Text string
	Blob *Blob
}

// Generator performs one attempt against one credential and model
type Generator interface {
	Generate(ctx context.Context, credential, model string, parts []Part) (string, error)
}

// Pair is one (credential, model) attempt
type Pair struct {
	Credential string
	Model      string
}

// Matrix is the ordered set of attempts: credentials outer, models inner
type Matrix struct {
	Credentials []string
	Models      []string
}

// NewMatrix builds a matrix with the preferred model first. Blank entries
// and repeated models are dropped.
func NewMatrix(credentials []string, preferred string, models []string) Matrix {
	var m Matrix
	for _, c := range credentials {
		if c = strings.TrimSpace(c); c != "" {
			m.Credentials = append(m.Credentials, c)
		}
	}
	seen := map[string]bool{}
	for _, model := range append([]string{preferred}, models...) {
		model = strings.TrimSpace(model)
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		m.Models = append(m.Models, model)
	}
	return m
}

// Pairs lists every attempt in traversal order
func (m Matrix) Pairs() []Pair {
	pairs := make([]Pair, 0, len(m.Credentials)*len(m.Models))
	for _, c := range m.Credentials {
		for _, model := range m.Models {
			pairs = append(pairs, Pair{Credential: c, Model: model})
		}
	}
	return pairs
}

// Config is the part of the settings the client needs
type Config struct {
	Credentials    []string
	PreferredModel string
	Models         []string
	Language       string
	Prompts        Prompts
}

// Client runs the credential/model traversal. Attempts are strictly
// sequential and the first success wins.
type Client struct {
	mu        sync.RWMutex
	config    Config
	generator Generator
	logger    *logger.Logger
}

// NewClient creates a client
func NewClient(config Config, generator Generator, log *logger.Logger) *Client {
	if len(config.Models) == 0 {
		config.Models = DefaultModels
	}
	return &Client{config: config, generator: generator, logger: log}
}

// SetConfig replaces the settings used by later requests
func (c *Client) SetConfig(config Config) {
	if len(config.Models) == 0 {
		config.Models = DefaultModels
	}
	c.mu.Lock()
	c.config = config
	c.mu.Unlock()
}

// Config returns the current settings
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Parts builds the ordered request content: system prompt, audio, image and
// the user's question
func (c *Client) Parts(req Request) []Part {
	config := c.Config()
	parts := []Part{{Text: config.Prompts.SystemPrompt(req, config.Language)}}
	if req.Audio != nil {
		parts = append(parts, Part{Blob: req.Audio})
	}
	if req.Image != nil {
		parts = append(parts, Part{Blob: req.Image})
	}
	if req.Text != "" {
		parts = append(parts, Part{Text: "User Question: " + req.Text})
	}
	return parts
}

// Infer answers a request. It fails with KindNoCredentials when no key is
// configured and with KindAllCredentialsExhausted when every pair failed.
func (c *Client) Infer(ctx context.Context, req Request) (string, error) {
	config := c.Config()
	matrix := NewMatrix(config.Credentials, config.PreferredModel, config.Models)
	if len(matrix.Credentials) == 0 {
		return "", domain.NewError(domain.KindNoCredentials, msgNoCredentials, nil)
	}

	parts := c.Parts(req)
	c.logger.Info("Inference request (%s): %d keys x %d models", req.Modality(), len(matrix.Credentials), len(matrix.Models))

	var lastErr error
	for i, credential := range matrix.Credentials {
		for _, model := range matrix.Models {
			if err := ctx.Err(); err != nil {
				return "", err
			}

			text, err := c.generator.Generate(ctx, credential, model, parts)
			if err == nil {
				c.logger.Info("Inference answered by key %d / model %s (%d chars)", i+1, model, len(text))
				return text, nil
			}

			if !errors.Is(err, domain.ErrProviderRequestFailed) {
				err = domain.NewError(domain.KindProviderRequestFailed, "API request failed", err)
			}
			c.logger.Warn("Key %d / Model %s failed: %v", i+1, model, err)
			lastErr = err
		}
		c.logger.Info("Key %d exhausted, switching to next key", i+1)
	}

	message := msgExhausted
	if lastErr != nil {
		message = domain.MessageOf(lastErr)
	}
	return "", domain.NewError(domain.KindAllCredentialsExhausted, message, lastErr)
}
