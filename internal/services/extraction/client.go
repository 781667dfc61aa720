package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	openAIBaseURL   = "https://api.openai.com/v1/chat/completions"
	openAIMaxTokens = 1000
)

var ErrNoAPIKey = errors.New("OPENAI_API_KEY not set")

const systemPrompt = `You are a specialized banking OCR and forensics assistant.
Your job is to extract transaction details AND detect visual manipulation in Proof of Payment images.
Return ONLY raw JSON. No markdown formatting.

DATA EXTRACTION:
- amount (number)
- date (ISO string YYYY-MM-DD if possible)
- reference (string)
- bankName (string)
- payerName (string or null)
- confidence (number 0-100 based on text legibility)

VISUAL ANALYSIS (look for fraud):
- fontMismatch (boolean): are different fonts used for numbers or names?
- layoutIssues (boolean): is text misaligned or floating?
- digitalEdits (boolean): are there artifacts around text suggesting copy-paste?
- visualConfidence (number 0-100): how authentic does the document look?
- detectedManips (string array): specific visual anomalies, e.g. "Different font on amount".`

// Capability is the external vision model. It returns the model's raw text.
type Capability interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (string, error)
}

// VisionClient calls the OpenAI chat completions API with the image inlined
// as a data URL. Each Analyze is a single request; a failed call is left to
// the adapter's fallback.
type VisionClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewVisionClient(apiKey, model string) *VisionClient {
	return &VisionClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: openAIBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// WithBaseURL points the client at another endpoint.
func (c *VisionClient) WithBaseURL(baseURL string) *VisionClient {
	c.baseURL = baseURL
	return c
}

func (c *VisionClient) Analyze(ctx context.Context, image []byte, mimeType string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	req := chatRequest{
		Model:     c.model,
		MaxTokens: openAIMaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: "Analyze this payment proof for data and fraud."},
				{Type: "image_url", ImageURL: &imageURL{
					URL:    "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image),
					Detail: "high",
				}},
			}},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response content")
	}
	return apiResp.Choices[0].Message.Content, nil
}
