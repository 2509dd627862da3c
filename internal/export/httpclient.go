package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusError is a non-2xx reply from a remote endpoint.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// retryable reports whether the request may succeed if repeated. Client
// errors, auth rejections included, are final.
func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// form is a request body that can be rebuilt for every attempt.
type form func() (body []byte, contentType string, err error)

type remote struct {
	client     *http.Client
	token      string
	maxRetries int
	retryDelay time.Duration
}

func newRemote(timeout time.Duration, token string, maxRetries int) remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return remote{
		client:     &http.Client{Timeout: timeout},
		token:      token,
		maxRetries: maxRetries,
		retryDelay: 500 * time.Millisecond,
	}
}

func (r remote) get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	r.authorize(req)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// post sends the form, retrying transport errors and 5xx replies, and
// returns the reply body.
func (r remote) post(ctx context.Context, url string, build form) ([]byte, error) {
	body, contentType, err := build()
	if err != nil {
		return nil, fmt.Errorf("build request body: %w", err)
	}

	var reply []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		r.authorize(req)

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(data)}
			if !serr.retryable() {
				return backoff.Permanent(serr)
			}
			return serr
		}
		reply = data
		return nil
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = r.retryDelay
	ebo.Reset()
	var bo backoff.BackOff = backoff.WithMaxRetries(ebo, uint64(max(r.maxRetries, 0)))
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return reply, nil
}

func (r remote) authorize(req *http.Request) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}
