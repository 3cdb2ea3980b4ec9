package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultFetchAttempts  = 3
	DefaultFetchBaseDelay = 2 * time.Second
	DefaultFetchMaxDelay  = 30 * time.Second
)

// FetchPolicy bounds the retries of a single download.
type FetchPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultFetchPolicy returns 3 attempts starting at 2s, doubling.
func DefaultFetchPolicy() FetchPolicy {
	return FetchPolicy{
		Attempts:  DefaultFetchAttempts,
		BaseDelay: DefaultFetchBaseDelay,
		MaxDelay:  DefaultFetchMaxDelay,
	}
}

// delay returns the wait after the given failed attempt (1-based).
func (p FetchPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Fetcher retrieves archives from the object store with bounded retry.
type Fetcher struct {
	objects  ObjectStore
	sleeper  Sleeper
	policy   FetchPolicy
	logger   Logger
	observer Observer
}

// NewFetcher creates a Fetcher. A policy with Attempts < 1 is treated as a single attempt.
func NewFetcher(objects ObjectStore, sleeper Sleeper, policy FetchPolicy, logger Logger, observer Observer) *Fetcher {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Fetcher{
		objects:  objects,
		sleeper:  sleeper,
		policy:   policy,
		logger:   logger,
		observer: observer,
	}
}

// Fetch downloads key to destPath. Transient failures are retried with
// exponential backoff; failures wrapping ErrPermanent are returned immediately.
func (f *Fetcher) Fetch(ctx context.Context, key, destPath string) error {
	var lastErr error

	for attempt := 1; attempt <= f.policy.Attempts; attempt++ {
		f.logger.Debug("download started", "key", key, "attempt", attempt)

		err := f.objects.Download(ctx, key, destPath)
		f.observer.FetchAttempt(err != nil)
		if err == nil {
			f.logger.Info("download succeeded", "key", key, "dest", destPath, "attempt", attempt)
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrPermanent) {
			f.logger.Error("download failed permanently", "key", key, "error", err)
			return fmt.Errorf("downloading %s: %w", key, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("downloading %s: %w", key, ctx.Err())
		}
		if attempt == f.policy.Attempts {
			break
		}

		wait := f.policy.delay(attempt)
		f.logger.Warn("download failed, retrying", "key", key, "attempt", attempt, "wait", wait, "error", err)
		if err := f.sleeper.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("downloading %s: %w", key, err)
		}
	}

	f.logger.Error("download failed after retries", "key", key, "attempts", f.policy.Attempts, "error", lastErr)
	return fmt.Errorf("downloading %s failed after %d attempts: %w", key, f.policy.Attempts, lastErr)
}
