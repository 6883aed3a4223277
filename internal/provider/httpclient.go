package provider

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	retryWaitMin = 500 * time.Millisecond
	retryWaitMax = 10 * time.Second
)

// retryableStatus are the HTTP statuses retried with backoff.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// httpClient is the retrying transport shared by the token manager and the
// API client. Requests are bounded by the configured timeout; transient
// failures are retried with exponential backoff and jitter, honouring
// Retry-After on rate limits.
type httpClient struct {
	client     *http.Client
	maxRetries int
	logger     *zap.Logger
}

func newHTTPClient(timeout time.Duration, maxRetries int, logger *zap.Logger) *httpClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpClient{
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Do executes req, retrying transient failures. Non-2xx responses are
// returned as *APIError with the body's provider error code when present.
// Request bodies are rewound through GetBody between attempts; a request
// whose body cannot be replayed is not retried after the first attempt
// consumed it.
func (c *httpClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		attemptReq := req.Clone(req.Context())
		if attempt > 0 && req.Body != nil {
			if req.GetBody == nil {
				return nil, lastErr
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attemptReq.Body = body
		}
		resp, err := c.client.Do(attemptReq)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries && IsTransient(err) {
				c.wait(req.Context(), attempt, 0)
				continue
			}
			return nil, err
		}

		if retryableStatus[resp.StatusCode] {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = parseAPIError(resp.StatusCode, body)
			if attempt < c.maxRetries {
				c.logger.Debug("retrying provider request",
					zap.Int("status", resp.StatusCode),
					zap.Int("attempt", attempt+1),
					zap.String("url", req.URL.Path),
				)
				c.wait(req.Context(), attempt, parseRetryAfter(resp))
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, parseAPIError(resp.StatusCode, body)
		}
		return resp, nil
	}
	return nil, lastErr
}

// wait sleeps for the backoff interval or until ctx is done.
func (c *httpClient) wait(ctx context.Context, attempt int, retryAfter time.Duration) {
	waitTime := retryAfter
	if waitTime == 0 {
		base := float64(retryWaitMin) * math.Pow(2, float64(attempt))
		jitter := base * 0.25 * (rand.Float64()*2 - 1)
		waitTime = time.Duration(base + jitter)
	}
	if waitTime > retryWaitMax {
		waitTime = retryWaitMax
	}
	if waitTime < retryWaitMin {
		waitTime = retryWaitMin
	}
	select {
	case <-ctx.Done():
	case <-time.After(waitTime):
	}
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	if len(body) == 0 {
		return apiErr
	}
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && (payload.Code != 0 || payload.Message != "") {
		apiErr.Code = payload.Code
		if payload.Message != "" {
			apiErr.Message = payload.Message
		}
	}
	return apiErr
}

func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
