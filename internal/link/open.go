package link

import (
	"context"
	"errors"

	"github.com/avast/retry-go"
	"github.com/danmuck/osdkctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrNoOpener = errors.New("link: opener required")

// Opener opens one link attempt.
type Opener func(ctx context.Context) (Link, error)

// Open retries opener with backoff until it succeeds, attempts run out, or ctx ends.
func Open(ctx context.Context, opener Opener, attempts uint, backoff session.BackoffConfig) (Link, error) {
	if opener == nil {
		return nil, ErrNoOpener
	}
	if attempts == 0 {
		attempts = 1
	}

	var out Link
	opts := append(backoffOptions(backoff),
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Uint("attempt", n+1).Err(err).Msg("link.Open retry")
		}),
		retry.LastErrorOnly(true),
	)
	err := retry.Do(func() error {
		l, err := opener(ctx)
		if err != nil {
			return err
		}
		out = l
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// backoffOptions maps b onto retry-go's doubling delay. RandomDelay panics on
// a zero jitter, so it is only combined in when MaxJitter is set.
func backoffOptions(b session.BackoffConfig) []retry.Option {
	delay := retry.DelayTypeFunc(retry.BackOffDelay)
	if b.MaxJitter > 0 {
		delay = retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
	}
	return []retry.Option{
		retry.Delay(b.InitialDelay),
		retry.MaxDelay(b.MaxDelay),
		retry.MaxJitter(b.MaxJitter),
		retry.DelayType(delay),
	}
}
