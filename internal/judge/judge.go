// Package judge gates escrow verification on an external LLM classification
// call: the model compares the job description to the submitted work and must
// answer with exactly one token, VALID or INVALID.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/handshake-escrow/backend/internal/apperr"
	"github.com/handshake-escrow/backend/internal/models"
	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

const verdictSystemPrompt = `You are an impartial escrow judge. You will be given a job description and the work delivered against it. Decide whether the delivered work satisfies the job description. Respond with exactly one word: VALID if it does, INVALID if it does not. Do not explain.`

const reasonedSystemPrompt = `You are an impartial escrow judge. You will be given a job description and the work delivered against it. Decide whether the delivered work satisfies the job description. The first line of your response must be exactly one word: VALID or INVALID. After that line, briefly explain your reasoning.`

// Client calls an Anthropic-style messages endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Judge returns the binary verdict for the submitted work. A transport error,
// timeout, or non-2xx response is a JudgeUnavailable error, never a verdict.
func (c *Client) Judge(ctx context.Context, jobDescription, submittedWork string) (string, error) {
	raw, err := c.complete(ctx, verdictSystemPrompt, jobDescription, submittedWork, 16)
	if err != nil {
		return "", err
	}
	return ParseVerdict(raw), nil
}

// JudgeWithReason also returns the model's free-text reasoning for audit
// logging. The reasoning is advisory and never affects the verdict.
func (c *Client) JudgeWithReason(ctx context.Context, jobDescription, submittedWork string) (string, string, error) {
	raw, err := c.complete(ctx, reasonedSystemPrompt, jobDescription, submittedWork, 512)
	if err != nil {
		return "", "", err
	}
	first, rest, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	return ParseVerdict(first), strings.TrimSpace(rest), nil
}

func (c *Client) complete(ctx context.Context, system, jobDescription, submittedWork string, maxTokens int) (string, error) {
	prompt := fmt.Sprintf("JOB DESCRIPTION:\n%s\n\nDELIVERED WORK:\n%s", jobDescription, submittedWork)

	body, err := json.Marshal(messageRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.JudgeUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", apperr.JudgeUnavailable(fmt.Errorf("judge service returned %d: %s", resp.StatusCode, string(b)))
	}

	var result messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperr.JudgeUnavailable(fmt.Errorf("invalid judge response: %w", err))
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// ParseVerdict normalizes a raw judge response to a verdict. Only the exact
// literal VALID (after trim + uppercase) releases funds; everything else —
// empty output, prose, multi-word answers — is INVALID. Fail closed.
func ParseVerdict(raw string) string {
	if strings.ToUpper(strings.TrimSpace(raw)) == models.VerdictValid {
		return models.VerdictValid
	}
	return models.VerdictInvalid
}
