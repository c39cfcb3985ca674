// Package completion talks to an OpenAI-compatible chat completion API with
// bounded, exponentially spaced retries.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	logx "cronbot/pkg/logx"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "gpt-3.5-turbo"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	// MaxRetryDelay caps the doubling delay between attempts.
	MaxRetryDelay = 5 * time.Minute
)

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration // per attempt
	MaxRetries int           // retries after the first attempt
	RetryDelay time.Duration // delay before the first retry; doubles each time
	Referer    string        // HTTP-Referer header, optional
	Title      string        // X-Title header, optional
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages         []Message
	Model            string
	MaxTokens        int
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	Stop             []string
}

type Response struct {
	ID      string
	Model   string
	Content string
	Usage   openai.Usage

	// RequestPayload and ResponsePayload are the JSON bodies exchanged on the
	// successful attempt, kept for execution records.
	RequestPayload  string
	ResponsePayload string
	Attempts        int
}

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Extra headers are still
// added on top of its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

type Client struct {
	cfg        Config
	api        *openai.Client
	httpClient *http.Client
	sleep      SleepFunc
	log        logx.Logger
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("completion: api key is required")
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:   cfg,
		sleep: sleepCtx,
		log:   log.With(logx.String("comp", "completion")),
	}
	for _, o := range opts {
		o(c)
	}

	base := c.httpClient
	if base == nil {
		base = &http.Client{}
	}
	hc := *base
	hc.Transport = &headerTransport{next: base.Transport, referer: cfg.Referer, title: cfg.Title}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &hc
	c.api = openai.NewClientWithConfig(oc)
	return c, nil
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Execute sends req, retrying retryable failures up to MaxRetries times.
// The delay before retry k is RetryDelay * 2^(k-1), capped at MaxRetryDelay.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	oreq := c.buildRequest(req)
	payload, _ := json.Marshal(oreq)

	maxAttempts := 1 + c.cfg.MaxRetries
	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt)
			c.log.Info("retrying completion request",
				logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, &ClientError{Kind: Exhausted, Attempts: attempt - 1, StatusCode: lastStatus, Err: errors.Join(err, lastErr)}
			}
		}

		c.log.Debug("completion request", logx.Int("attempt", attempt), logx.String("model", oreq.Model))
		started := time.Now()
		resp, err := c.once(ctx, oreq)
		if err == nil {
			c.log.Debug("completion response", logx.Int("attempt", attempt), logx.Duration("took", time.Since(started)))
			out := &Response{
				ID:             resp.ID,
				Model:          resp.Model,
				Usage:          resp.Usage,
				RequestPayload: string(payload),
				Attempts:       attempt,
			}
			if len(resp.Choices) > 0 {
				out.Content = resp.Choices[0].Message.Content
			}
			if b, mErr := json.Marshal(resp); mErr == nil {
				out.ResponsePayload = string(b)
			}
			return out, nil
		}

		f := classify(err)
		lastErr, lastStatus = err, f.status
		c.log.Warn("completion request failed",
			logx.Int("attempt", attempt),
			logx.Int("status", f.status),
			logx.String("code", f.code),
			logx.String("message", f.message),
			logx.Bool("retryable", f.retryable),
		)
		if !f.retryable {
			return nil, &ClientError{Kind: Terminal, Attempts: attempt, StatusCode: f.status, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &ClientError{Kind: Exhausted, Attempts: attempt, StatusCode: f.status, Err: errors.Join(ctx.Err(), err)}
		}
	}
	return nil, &ClientError{Kind: Exhausted, Attempts: maxAttempts, StatusCode: lastStatus, Err: lastErr}
}

// backoff returns the delay before the given attempt (the first retry is
// attempt 2).
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.RetryDelay
	for i := 2; i < attempt && d < MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, MaxRetryDelay)
}

func (c *Client) once(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.api.CreateChatCompletion(actx, req)
}

func (c *Client) buildRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:            model,
		Messages:         msgs,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
	}
}

// Chat sends a single user prompt and returns the full response.
func (c *Client) Chat(ctx context.Context, prompt string) (*Response, error) {
	return c.Execute(ctx, Request{
		Messages: []Message{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	})
}

// TestConnection sends a one-token request and reports whether it succeeded.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.Execute(ctx, Request{
		Messages:  []Message{{Role: openai.ChatMessageRoleUser, Content: "test"}},
		MaxTokens: 1,
	})
	if err != nil {
		c.log.Warn("completion connection test failed", logx.Err(err))
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type headerTransport struct {
	next    http.RoundTripper
	referer string
	title   string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	if t.referer == "" && t.title == "" {
		return next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	if t.referer != "" {
		r.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		r.Header.Set("X-Title", t.title)
	}
	return next.RoundTrip(r)
}
