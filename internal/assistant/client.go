package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 30 * time.Second

// Recorder observes each backend call.
type Recorder interface {
	ObserveAssistantRequest(endpoint string, err error, elapsed time.Duration)
}

// Client wraps the HTTP interactions with the assistant backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	recorder   Recorder
}

// APIError represents a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("assistant api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("assistant api error (%d): %s", e.StatusCode, e.Message)
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) ClientOption {
	return func(c *Client) { c.recorder = r }
}

// NewClient instantiates a client for the backend rooted at rawURL, e.g.
// http://localhost:3001/api.
func NewClient(rawURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: DefaultHTTPTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// CreateConversation starts a session and returns its identifier.
func (c *Client) CreateConversation(ctx context.Context, message string) (string, error) {
	var out createConversationResponse
	if err := c.post(ctx, "conversations", createConversationRequest{Message: message}, &out, "conversations"); err != nil {
		return "", err
	}
	if out.ConversationID == "" {
		return "", errors.New("assistant: response carries no conversationId")
	}
	return out.ConversationID, nil
}

// SendMessage posts a user message. walletAddress is encoded as null when
// empty.
func (c *Client) SendMessage(ctx context.Context, conversationID, message, walletAddress string) (Response, error) {
	if conversationID == "" {
		return Response{}, errors.New("assistant: no active conversation")
	}
	req := sendMessageRequest{Message: message}
	if walletAddress != "" {
		req.WalletAddress = &walletAddress
	}
	var out Response
	if err := c.post(ctx, "messages", req, &out, "conversations", conversationID, "messages"); err != nil {
		return Response{}, err
	}
	return out, nil
}

// post 发送 JSON 请求并把应答解码到 out，endpoint 只用于指标标签。
func (c *Client) post(ctx context.Context, endpoint string, payload, out any, segments ...string) (err error) {
	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveAssistantRequest(endpoint, err, time.Since(start))
		}
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	target := *c.baseURL
	target.Path = path.Join(append([]string{"/", c.baseURL.Path}, segments...)...)
	target.RawPath = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// readAPIError 兼容 {"error":{...}}、{"code":..,"message":..} 以及纯文本三种错误体。
func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}

	var envelope struct {
		Error *APIError `json:"error"`
	}
	switch {
	case json.Unmarshal(data, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "":
		apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
	case json.Unmarshal(data, apiErr) == nil && apiErr.Message != "":
	default:
		apiErr.Message = string(data)
	}
	return apiErr
}
