package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/digkill/creditgate/internal/config"
	"github.com/digkill/creditgate/internal/models"
)

var (
	ErrBadStatus         = errors.New("upstream returned non-success status")
	ErrMalformedResponse = errors.New("upstream response is malformed")
)

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
}

type CompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
	Stream      bool             `json:"stream"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Completion is the generated content plus provider metadata. Usage is
// informational only; billing never reads it.
type Completion struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
}

// NewClient builds a client without an http.Client timeout: callers bound
// each call with a context deadline.
func NewClient(cfg config.Config, log *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.UpstreamBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	path, err := url.Parse(cfg.UpstreamPath)
	if err != nil {
		return nil, fmt.Errorf("parse upstream path: %w", err)
	}
	return &Client{
		apiKey:     cfg.UpstreamAPIKey,
		endpoint:   base.ResolveReference(path).String(),
		httpClient: &http.Client{},
		log:        log,
	}, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rawBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if c.log != nil {
			c.log.Error("upstream request failed", "status", resp.StatusCode, "url", c.endpoint, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrBadStatus, resp.StatusCode, truncateBody(rawBody))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readStream(resp.Body)
	}
	return readCompletion(resp.Body)
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func readCompletion(r io.Reader) (*Completion, error) {
	rawBody, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var parsed completionResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v (body=%s)", ErrMalformedResponse, err, truncateBody(rawBody))
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}
	choice := parsed.Choices[0]
	if choice.Message.Content == nil {
		return nil, fmt.Errorf("%w: missing message content", ErrMalformedResponse)
	}

	return &Completion{
		ID:           parsed.ID,
		Model:        parsed.Model,
		Content:      *choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// readStream folds server-sent chunks into a single completion.
func readStream(r io.Reader) (*Completion, error) {
	reader := bufio.NewReader(r)
	var (
		out      Completion
		content  strings.Builder
		chunks   int
		finished bool
	)
	for !finished {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimSpace(line)
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				finished = true
				continue
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return nil, fmt.Errorf("%w: decode stream chunk: %v", ErrMalformedResponse, err)
			}
			chunks++
			if out.ID == "" {
				out.ID = chunk.ID
				out.Model = chunk.Model
			}
			for _, choice := range chunk.Choices {
				content.WriteString(choice.Delta.Content)
				if choice.FinishReason != "" {
					out.FinishReason = choice.FinishReason
				}
			}
			if chunk.Usage != nil {
				out.Usage = *chunk.Usage
			}
		}
		if eof {
			break
		}
	}

	if !finished {
		return nil, fmt.Errorf("%w: stream ended before [DONE]", ErrMalformedResponse)
	}
	if chunks == 0 {
		return nil, fmt.Errorf("%w: stream carried no chunks", ErrMalformedResponse)
	}
	out.Content = content.String()
	return &out, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
