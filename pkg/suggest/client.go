package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/config"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/metrics"
)

const systemPrompt = `Jesteś asystentem coachingowym dla handlowca prowadzącego rozmowę na żywo.
Na podstawie transkryptu rozmowy odpowiadaj wyłącznie w JSON z polami:
"sugestie" (lista krótkich podpowiedzi), "next_action" (jedna rekomendowana akcja),
"signals" (sygnały kupna lub ryzyka), "speaker_analysis" (analiza rozmówcy),
"intent" (intencja klienta). Pomijaj pola, dla których nie masz treści.`

// ConversationEntry is one finalized utterance handed to the completion
// service as context.
type ConversationEntry struct {
	Speaker string
	Role    string
	Text    string
}

// Generator produces coaching suggestions from conversation context.
// The coordinator depends on this interface so tests can substitute a fake.
type Generator interface {
	Generate(ctx context.Context, entries []ConversationEntry, notes string) (Payload, error)
}

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	logger     *logrus.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
	model      string
}

// NewClient creates a completion-service client.
func NewClient(cfg config.SuggestConfig, logger *logrus.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set in the environment")
	}
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the rolling transcript to the completion service and parses
// the suggestion payload out of the answer.
func (c *Client) Generate(ctx context.Context, entries []ConversationEntry, notes string) (Payload, error) {
	start := time.Now()
	metrics.IncCounter(metrics.SuggestionRequests)

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: renderContext(entries, notes)},
		},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(data))
	if err != nil {
		return Payload{}, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncCounter(metrics.SuggestionErrors)
		return Payload{}, fmt.Errorf("failed to reach completion service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.IncCounter(metrics.SuggestionErrors)
		return Payload{}, fmt.Errorf("completion service returned non-200 status code: %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.IncCounter(metrics.SuggestionErrors)
		return Payload{}, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		metrics.IncCounter(metrics.SuggestionErrors)
		return Payload{}, fmt.Errorf("completion response contained no choices")
	}

	payload := Parse([]byte(parsed.Choices[0].Message.Content))

	metrics.ObserveHistogram(metrics.SuggestionLatency, time.Since(start).Seconds())
	c.logger.WithFields(logrus.Fields{
		"entries":     len(entries),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Suggestion payload received")

	return payload, nil
}

func renderContext(entries []ConversationEntry, notes string) string {
	var b strings.Builder
	if notes != "" {
		b.WriteString("Notatki handlowca: ")
		b.WriteString(notes)
		b.WriteString("\n\n")
	}
	b.WriteString("Transkrypt rozmowy:\n")
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("[%s/%s] %s\n", e.Speaker, e.Role, e.Text))
	}
	return b.String()
}
