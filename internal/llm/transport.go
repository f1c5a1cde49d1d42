package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultTimeout = 120 * time.Second

	maxErrorBodyChars = 512
)

// transport performs the HTTP side of a provider call: one timeout per
// attempt, status classification and retries.
type transport struct {
	provider string
	client   *http.Client
	timeout  time.Duration
	retry    RetryPolicy
	logger   *slog.Logger
}

func newTransport(provider string, opts ClientOptions) *transport {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &transport{
		provider: provider,
		client:   client,
		timeout:  opts.Timeout,
		retry:    opts.Retry,
		logger:   logger,
	}
}

type opened struct {
	resp   *http.Response
	cancel context.CancelFunc
	// disarm stops the attempt's timeout while leaving cancel usable.
	disarm func()
}

// send makes a single attempt. On success the returned cancel func must be
// called once the body is consumed; on failure it has already been called.
// The timeout keeps running until disarm or cancel is called.
func (t *transport) send(ctx context.Context, url string, header http.Header, body []byte) (opened, error) {
	actx, cancel := context.WithCancel(ctx)
	disarm := func() {}
	if t.timeout > 0 {
		timer := time.AfterFunc(t.timeout, cancel)
		disarm = func() { timer.Stop() }
		stop := cancel
		cancel = func() {
			timer.Stop()
			stop()
		}
	}

	req, err := http.NewRequestWithContext(actx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return opened{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return opened{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := readErrorBody(resp.Body)
		resp.Body.Close()
		cancel()
		return opened{}, NewStatusError(t.provider, resp.StatusCode, snippet)
	}
	return opened{resp: resp, cancel: cancel, disarm: disarm}, nil
}

// do posts body and returns the full response body.
func (t *transport) do(ctx context.Context, url string, header http.Header, body []byte) ([]byte, error) {
	return WithRetry(ctx, t.retry, t.provider, t.logger, func(ctx context.Context) ([]byte, error) {
		o, err := t.send(ctx, url, header, body)
		if err != nil {
			return nil, err
		}
		defer o.cancel()
		defer o.resp.Body.Close()

		data, err := io.ReadAll(o.resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		return data, nil
	})
}

// open posts body and hands back the live response for streaming. The
// attempt's timeout covers getting the response headers only; the body may
// stream for as long as it takes. release aborts the request.
func (t *transport) open(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, context.CancelFunc, error) {
	o, err := WithRetry(ctx, t.retry, t.provider, t.logger, func(ctx context.Context) (opened, error) {
		o, err := t.send(ctx, url, header, body)
		if err == nil {
			o.disarm()
		}
		return o, err
	})
	if err != nil {
		return nil, nil, err
	}
	if o.resp.Body == nil || o.resp.Body == http.NoBody {
		o.cancel()
		return nil, nil, fmt.Errorf("%s: %w", t.provider, ErrNoStreamBody)
	}
	return o.resp, o.cancel, nil
}

// readErrorBody reads at most the first maxErrorBodyChars characters of an
// error response. Read failures keep whatever was read.
func readErrorBody(r io.Reader) string {
	if r == nil {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyChars*utf8.UTFMax))
	return truncateChars(strings.TrimSpace(string(data)), maxErrorBodyChars)
}

func truncateChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
