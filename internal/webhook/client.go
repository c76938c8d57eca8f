package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/paywatch/chain-notify/pkg/logger"
)

// ErrDeliveryFailed 快速重试耗尽后仍未投递成功
var ErrDeliveryFailed = errors.New("webhook delivery failed")

const (
	defaultRequestTimeout = 10 * time.Second
	defaultFastRetries    = 3
	fastRetryBase         = time.Second
)

// Client 回调投递客户端
// 单次投递内做 3 次快速重试 (1s/2s/4s)，仍失败交由持久化队列兜底
type Client struct {
	httpClient  *http.Client
	fastRetries int
}

// NewClient 创建回调投递客户端
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		fastRetries: defaultFastRetries,
	}
}

// Deliver 投递回调，2xx 视为成功
func (c *Client) Deliver(ctx context.Context, url, payload string) error {
	var lastErr error
	backoff := fastRetryBase
	for attempt := 0; attempt < c.fastRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = c.post(ctx, url, payload)
		if lastErr == nil {
			return nil
		}

		logger.Warn("webhook delivery attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
}

// DeliverOnce 单次投递，持久化队列补发时用 (队列自身控制节奏)
func (c *Client) DeliverOnce(ctx context.Context, url, payload string) error {
	return c.post(ctx, url, payload)
}

func (c *Client) post(ctx context.Context, url, payload string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
