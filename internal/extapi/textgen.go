package extapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wishbot/pkg/logx"
)

const (
	defaultGenBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGenModel   = "gemini-1.5-flash-latest"
)

// Generator produces wish texts from a single-prompt generation endpoint.
//
// A transport or quota error is retryable; a 200 with no generated content
// is "no result" and is not retried — callers take the fallback path.
type Generator struct {
	httpc   *http.Client
	retrier *Retrier
	baseURL string
	apiKey  string
	model   string
	log     logx.Logger
}

type GeneratorConfig struct {
	APIKey  string
	Model   string
	BaseURL string // override for tests
}

func NewGenerator(cfg GeneratorConfig, retrier *Retrier, log logx.Logger) *Generator {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGenBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultGenModel
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Generator{
		httpc:   &http.Client{Timeout: 30 * time.Second},
		retrier: retrier,
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   model,
		log:     log,
	}
}

// HolidayWish generates a celebratory message for a named holiday.
// An empty result with nil error means the provider produced nothing.
func (g *Generator) HolidayWish(ctx context.Context, holidayName string) (string, error) {
	prompt := fmt.Sprintf(
		"Create a wish message for the festival of %s for a community chat server. "+
			"The message must be formatted using Discord's markdown. "+
			"Start with a bold header using a hash symbol (e.g., '# Happy %s!'). "+
			"Include bold (`**text**`), italics (`*text*`), and a block quote (`> quote`). "+
			"Do not use embeds. The output should be a raw text message.",
		holidayName, holidayName)
	return Call(ctx, g.retrier, "text generation", func(ctx context.Context) (string, error) {
		return g.generate(ctx, prompt)
	})
}

// BirthdayWish generates a personalized birthday message containing the
// member's mention.
func (g *Generator) BirthdayWish(ctx context.Context, displayName, mention string) (string, error) {
	prompt := fmt.Sprintf(
		"Create a personal and cheerful birthday wish for a community member named %s. "+
			"The message must be formatted using Discord's markdown. "+
			"Start the message with a header like '# Happy Birthday, %s! 🎉'. "+
			"Make sure to include their mention, which is `%s`, in the body of the message. "+
			"Use other formatting like bold, italics, and block quotes to make it feel special. "+
			"Encourage others to wish them a happy birthday. Do not use embeds.",
		displayName, displayName, mention)
	return Call(ctx, g.retrier, "text generation", func(ctx context.Context) (string, error) {
		return g.generate(ctx, prompt)
	})
}

// FallbackBirthdayWish is the fixed template substituted when generation is
// exhausted; the member is never skipped entirely.
func FallbackBirthdayWish(displayName, mention string) string {
	return fmt.Sprintf(
		"# 🎉 Happy Birthday, %s! 🎉\n\n> Hope you have a fantastic day filled with joy and laughter!\n\nEveryone, please wish a happy birthday to %s!",
		displayName, mention)
}

type genPart struct {
	Text string `json:"text"`
}

type genContent struct {
	Parts []genPart `json:"parts"`
}

type generateRequest struct {
	Contents []genContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content genContent `json:"content"`
	} `json:"candidates"`
}

func (g *Generator) generate(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{Contents: []genContent{{Parts: []genPart{{Text: prompt}}}}}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation provider returned status %d", resp.StatusCode)
	}

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}

	// A successful call with no content is "no result", not a failure.
	if len(body.Candidates) == 0 || len(body.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range body.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
