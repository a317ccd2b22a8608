package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/avvvet/room-services/internal/roomsvc/models"
)

type Options struct {
	MaxAttempts     uint          // per Read/Submit, including the first
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff cap
	SubmitRate      rate.Limit    // submissions per second, rate.Inf disables pacing
	SubmitBurst     int
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     3 * time.Second,
		SubmitRate:      50,
		SubmitBurst:     10,
	}
}

// Client wraps a backend with pacing and bounded retries. Unconfirmed and
// throttled attempts are resubmitted verbatim: the program rejects a
// duplicate, so a resubmission can never apply twice. Rejections are
// returned to the caller untouched.
type Client struct {
	backend Ledger
	limiter *rate.Limiter
	opts    Options
}

func NewClient(backend Ledger, opts Options) *Client {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 1
	}
	if opts.SubmitBurst <= 0 {
		opts.SubmitBurst = 1
	}
	return &Client{
		backend: backend,
		limiter: rate.NewLimiter(opts.SubmitRate, opts.SubmitBurst),
		opts:    opts,
	}
}

func (c *Client) Read(ctx context.Context, addr models.Pubkey) (*Account, error) {
	op := func() (*Account, error) {
		acc, err := c.backend.Read(ctx, addr)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return acc, err
	}

	acc, err := backoff.Retry(ctx, op, c.retryOptions("read", addr.String())...)
	if err != nil {
		err = unwrapPermanent(err)
		if ctx.Err() != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: read %s: %v", ErrUnconfirmed, addr, err)
		}
		return nil, err
	}
	return acc, nil
}

// Submit sends tx until it commits, is rejected, or the attempt budget or
// deadline runs out. A deadline hit after anything was sent is reported as
// ErrUnconfirmed.
func (c *Client) Submit(ctx context.Context, tx *Transaction) (string, error) {
	unconfirmed := false

	op := func() (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(fmt.Errorf("%w: %v", ErrUnconfirmed, err))
			}
			return "", backoff.Permanent(fmt.Errorf("%w: %v", ErrThrottled, err))
		}

		sig, err := c.backend.Submit(ctx, tx)
		if err == nil {
			return sig, nil
		}

		var rej *RejectedError
		switch {
		case errors.As(err, &rej):
			if unconfirmed {
				flagged := *rej
				flagged.AfterUnconfirmed = true
				return "", backoff.Permanent(&flagged)
			}
			return "", backoff.Permanent(err)
		case errors.Is(err, ErrUnconfirmed):
			unconfirmed = true
			return "", err
		case errors.Is(err, ErrThrottled):
			return "", err
		default:
			return "", backoff.Permanent(err)
		}
	}

	sig, err := backoff.Retry(ctx, op, c.retryOptions("submit", tx.Instruction)...)
	if err == nil {
		return sig, nil
	}
	err = unwrapPermanent(err)

	if errors.Is(err, ErrTransitionRejected) || errors.Is(err, ErrUnconfirmed) {
		return "", err
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %s abandoned: %v", ErrUnconfirmed, tx.Instruction, err)
	}
	if unconfirmed {
		// an earlier attempt may still land
		return "", fmt.Errorf("%w: last attempt %v", ErrUnconfirmed, err)
	}
	return "", err
}

func (c *Client) retryOptions(op, subject string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if c.opts.InitialInterval > 0 {
		b.InitialInterval = c.opts.InitialInterval
	}
	if c.opts.MaxInterval > 0 {
		b.MaxInterval = c.opts.MaxInterval
	}

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.opts.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warnf("ledger %s %s failed, retrying in %s: %v", op, subject, next, err)
		}),
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrUnconfirmed) || errors.Is(err, ErrThrottled)
}

// unwrapPermanent strips the marker backoff leaves on a permanent error
// returned on the last allowed try.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
