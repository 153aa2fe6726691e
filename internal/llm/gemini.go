// Package llm talks to the Gemini generative API: one text instruction plus
// one problem image in, a text answer out, either whole or as a chunk stream.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the Gemini REST API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) requestBody(prompt string, image []byte, mimeType string) ([]byte, error) {
	req := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: prompt},
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
	}
	return json.Marshal(req)
}

func (c *Client) newRequest(ctx context.Context, endpoint string, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:%s", c.baseURL, c.model, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	return req, nil
}

// Solve sends the instruction and image and returns the full answer text.
func (c *Client) Solve(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	body, err := c.requestBody(prompt, image, mimeType)
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}

	req, err := c.newRequest(ctx, "generateContent", body)
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: call model: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm: model returned status %d: %s", resp.StatusCode, payload)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}

	text := decoded.text()
	if text == "" {
		return "", fmt.Errorf("llm: empty answer")
	}
	return text, nil
}

// SolveStream sends the instruction and image and delivers the answer
// incrementally. fn is called once per text chunk; a non-nil return aborts
// the stream.
func (c *Client) SolveStream(ctx context.Context, prompt string, image []byte, mimeType string, fn func(chunk string) error) error {
	body, err := c.requestBody(prompt, image, mimeType)
	if err != nil {
		return fmt.Errorf("llm: encode request: %w", err)
	}

	req, err := c.newRequest(ctx, "streamGenerateContent?alt=sse", body)
	if err != nil {
		return fmt.Errorf("llm: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: call model: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llm: model returned status %d: %s", resp.StatusCode, payload)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sawChunk := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var decoded generateResponse
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			return fmt.Errorf("llm: decode chunk: %w", err)
		}
		if chunk := decoded.text(); chunk != "" {
			sawChunk = true
			if err := fn(chunk); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("llm: read stream: %w", err)
	}
	if !sawChunk {
		return fmt.Errorf("llm: empty answer")
	}
	return nil
}

func (r *generateResponse) text() string {
	var sb strings.Builder
	for _, candidate := range r.Candidates {
		for _, p := range candidate.Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
