package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"redlive/internal/core/domain"
	"redlive/pkg/logger"
	"redlive/pkg/retry"

	"go.uber.org/zap"
)

// Client consumes the REST backend that owns stream CRUD and historical
// comments. The backend is an external collaborator; nothing here mutates
// state the live subsystem owns.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	retryCfg   retry.Config
	logger     *logger.ContextLogger
}

func NewClient(baseURL, token string, timeout time.Duration, retryCfg retry.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		token:    token,
		retryCfg: retryCfg,
		logger:   logger.NewContextLogger(log),
	}
}

// GetStream fetches the stream record. The caller holds the result as a
// read-through cached copy for the session's lifetime.
func (c *Client) GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() (*domain.Stream, error) {
		var stream domain.Stream
		if err := c.get(ctx, fmt.Sprintf("/live/streams/%s/", id), &stream); err != nil {
			return nil, err
		}
		return &stream, nil
	})
}

// GetComments fetches the historical comment log shown before live chat
// takes over.
func (c *Client) GetComments(ctx context.Context, id domain.StreamID) ([]*domain.ChatComment, error) {
	return retry.DoWithResult(ctx, c.retryCfg, func() ([]*domain.ChatComment, error) {
		var comments []*domain.ChatComment
		if err := c.get(ctx, fmt.Sprintf("/live/streams/%s/comments/", id), &comments); err != nil {
			return nil, err
		}
		return comments, nil
	})
}

// StartStream tells the backend the broadcast went live. Not retried: the
// signaling fan-out follows immediately and a duplicate start is a backend
// error we want surfaced.
func (c *Client) StartStream(ctx context.Context, id domain.StreamID) error {
	return c.post(ctx, fmt.Sprintf("/live/streams/%s/start/", id))
}

// EndStream tells the backend the broadcast ended.
func (c *Client) EndStream(ctx context.Context, id domain.StreamID) error {
	return c.post(ctx, fmt.Sprintf("/live/streams/%s/end/", id))
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrStreamNotFound
	}
	if resp.StatusCode >= 400 {
		// Session fields (stream id, peer id) ride in on the request context.
		c.logger.WithContext(req.Context()).Sugar().Warnw("backend returned error",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
		)
		return fmt.Errorf("backend HTTP %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}
