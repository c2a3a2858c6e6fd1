// Package fal implements the ImageEditor port on top of fal.ai's queue and
// storage REST APIs.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ImageEditor = (*Client)(nil)

const (
	defaultQueueURL     = "https://queue.fal.run"
	defaultStorageURL   = "https://rest.alpha.fal.ai"
	defaultModel        = "fal-ai/alpha-image-232/edit-image"
	defaultPollInterval = time.Second
	cancelTimeout       = 5 * time.Second
	maxErrorBody        = 64 << 10
)

// ErrNotConfigured is returned by NewClient when no API key is set.
var ErrNotConfigured = errors.New("fal api key is not configured")

// Config configures a Client.
type Config struct {
	Key          string
	QueueURL     string
	StorageURL   string
	Model        string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Clock        clockwork.Clock
	// OnBreakerChange, if set, is called after every breaker transition.
	OnBreakerChange func(name string, to gobreaker.State)
}

// Client submits edit jobs to the fal queue and waits for them by polling.
// Every HTTP exchange runs through one circuit breaker so a failing provider
// is rejected fast.
type Client struct {
	key        string
	queueURL   string
	storageURL string
	model      string
	poll       time.Duration
	http       *http.Client
	clock      clockwork.Clock
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a Client, filling unset fields with fal's public endpoints.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, ErrNotConfigured
	}

	c := &Client{
		key:        cfg.Key,
		queueURL:   strings.TrimRight(orDefault(cfg.QueueURL, defaultQueueURL), "/"),
		storageURL: strings.TrimRight(orDefault(cfg.StorageURL, defaultStorageURL), "/"),
		model:      strings.Trim(orDefault(cfg.Model, defaultModel), "/"),
		poll:       cfg.PollInterval,
		http:       cfg.HTTPClient,
		clock:      cfg.Clock,
		logger:     logger,
	}
	if c.poll <= 0 {
		c.poll = defaultPollInterval
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fal",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if cfg.OnBreakerChange != nil {
				cfg.OnBreakerChange(name, to)
			}
		},
	})
	return c, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// countsAsSuccess keeps caller cancellations, expired waits and request
// errors (4xx) from tripping the breaker. Transport failures and 5xx count.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500
	}
	return false
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

type initiateRequest struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

type initiateResponse struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

// Upload stores data in fal's CDN and returns its public URL.
func (c *Client) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	var init initiateResponse
	err := c.call(ctx, http.MethodPost, c.storageURL+"/storage/upload/initiate?storage_type=fal-cdn-v3",
		initiateRequest{ContentType: contentType, FileName: filename}, &init)
	if err != nil {
		return "", fmt.Errorf("initiate upload: %w", err)
	}
	if init.UploadURL == "" || init.FileURL == "" {
		return "", errors.New("initiate upload: storage returned no upload url")
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, init.UploadURL, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}

	c.logger.Debug("uploaded image to fal storage", "filename", filename, "bytes", len(data), "url", init.FileURL)
	return init.FileURL, nil
}

// Edit submits job, polls until it completes and returns its output. If ctx
// ends first the remote job is cancelled on a best-effort basis.
func (c *Client) Edit(ctx context.Context, job model.EditJob, onProgress func(model.ProgressEvent)) (*model.EditOutput, error) {
	var sub submitResponse
	if err := c.call(ctx, http.MethodPost, c.queueURL+"/"+c.model, newArguments(job), &sub); err != nil {
		return nil, fmt.Errorf("submit edit: %w", err)
	}
	if sub.StatusURL == "" {
		sub.StatusURL = fmt.Sprintf("%s/%s/requests/%s/status", c.queueURL, c.model, sub.RequestID)
	}
	if sub.ResponseURL == "" {
		sub.ResponseURL = fmt.Sprintf("%s/%s/requests/%s", c.queueURL, c.model, sub.RequestID)
	}
	c.logger.Info("edit job submitted", "request_id", sub.RequestID, "model", c.model)

	ticker := c.clock.NewTicker(c.poll)
	defer ticker.Stop()

	seen := 0
	for {
		var st statusResponse
		if err := c.call(ctx, http.MethodGet, sub.StatusURL+"?logs=1", nil, &st); err != nil {
			if ctx.Err() != nil {
				c.cancel(sub)
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("poll status %s: %w", sub.RequestID, err)
		}

		// Logs are cumulative across polls.
		for ; seen < len(st.Logs); seen++ {
			onProgress(st.Logs[seen].event())
		}

		switch st.Status {
		case statusCompleted:
			if st.Error != "" {
				return nil, &APIError{StatusCode: http.StatusOK, Detail: st.Error}
			}
			return c.result(ctx, sub)
		case statusInQueue:
			c.logger.Debug("edit job queued", "request_id", sub.RequestID, "position", st.QueuePosition)
		}

		select {
		case <-ctx.Done():
			c.cancel(sub)
			return nil, ctx.Err()
		case <-ticker.Chan():
		}
	}
}

func (c *Client) result(ctx context.Context, sub submitResponse) (*model.EditOutput, error) {
	var res resultResponse
	if err := c.call(ctx, http.MethodGet, sub.ResponseURL, nil, &res); err != nil {
		return nil, fmt.Errorf("fetch result %s: %w", sub.RequestID, err)
	}

	out := &model.EditOutput{Images: make([]model.OutputImage, 0, len(res.Images)), Seed: res.Seed}
	for _, img := range res.Images {
		out.Images = append(out.Images, model.OutputImage{
			URL:         img.URL,
			Width:       img.Width,
			Height:      img.Height,
			ContentType: img.ContentType,
		})
	}
	return out, nil
}

// cancel asks fal to drop the job. It runs on its own short context because
// the caller's is already done.
func (c *Client) cancel(sub submitResponse) {
	url := sub.CancelURL
	if url == "" {
		url = fmt.Sprintf("%s/%s/requests/%s/cancel", c.queueURL, c.model, sub.RequestID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	if err := c.call(ctx, http.MethodPut, url, nil, nil); err != nil {
		c.logger.Warn("failed to cancel edit job", "request_id", sub.RequestID, "error", err)
		return
	}
	c.logger.Info("edit job cancelled", "request_id", sub.RequestID)
}

// call performs one authenticated JSON exchange inside the breaker.
func (c *Client) call(ctx context.Context, method, url string, in, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var body io.Reader
		if in != nil {
			raw, err := json.Marshal(in)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			body = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Key "+c.key)
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{StatusCode: resp.StatusCode, Detail: detailOf(raw)}
}
