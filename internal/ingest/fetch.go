package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lox/cropwatch/internal/httputil"
	"github.com/lox/cropwatch/internal/metrics"
)

// requester performs provider GETs with retry and a circuit breaker.
type requester struct {
	provider   string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxElapsed time.Duration
	initial    time.Duration
}

func newRequester(provider string, client *http.Client) *requester {
	if client == nil {
		client = httputil.NewClient(0)
	}
	return &requester{
		provider: provider,
		client:   client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: healthyOutcome,
		}),
		maxElapsed: 2 * time.Minute,
		initial:    500 * time.Millisecond,
	}
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// healthyOutcome reports whether an error says nothing about the upstream's
// health. Rejected requests and callers giving up do not count against the
// breaker.
func healthyOutcome(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && !retryable(statusErr.Code)
}

func (r *requester) get(ctx context.Context, url string) (*FetchResult, error) {
	result := &FetchResult{}

	operation := func() error {
		result.Attempts++
		result.HTTPStatus, result.ResponseSize = 0, 0
		start := time.Now()

		out, err := r.breaker.Execute(func() (interface{}, error) {
			req, err := httputil.NewJSONRequest(ctx, url)
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
			}
			resp, err := r.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", r.provider, err)
			}
			defer resp.Body.Close()

			result.HTTPStatus = resp.StatusCode
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			result.ResponseSize = len(body)

			if resp.StatusCode != http.StatusOK {
				statusErr := &StatusError{Provider: r.provider, Code: resp.StatusCode, Body: string(body)}
				if retryable(resp.StatusCode) {
					return nil, statusErr
				}
				return nil, backoff.Permanent(statusErr)
			}
			return body, nil
		})
		metrics.ProviderLatency.WithLabelValues(r.provider).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.ProviderCallsTotal.WithLabelValues(r.provider, callStatus(result.HTTPStatus, err)).Inc()
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%s: circuit open: %w", r.provider, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		metrics.ProviderCallsTotal.WithLabelValues(r.provider, "200").Inc()
		result.Body = out.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	bo.MaxElapsedTime = r.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return result, err
	}
	return result, nil
}

func callStatus(code int, err error) string {
	if code > 0 {
		return strconv.Itoa(code)
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		return "circuit_open"
	}
	return "error"
}
