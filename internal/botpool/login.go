package botpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/skinvault/escrowd/internal/pkg/apperrors"
	"github.com/skinvault/escrowd/internal/pkg/metrics"
	"github.com/skinvault/escrowd/internal/steam"
)

// LoginWithRetry authenticates the bot through the process-wide login
// queue: one login in flight at a time, a fixed delay between logins,
// exponential backoff on rate-limit failures and a short fixed delay
// otherwise. Exhausting attempts leaves the bot offline until the next
// health cycle retries it.
func (p *Pool) LoginWithRetry(ctx context.Context, botID string) error {
	p.loginMu.Lock()
	defer p.loginMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxLoginAttempts; attempt++ {
		if err := p.loginLimiter.Wait(ctx); err != nil {
			return err
		}

		err := p.loginBreaker.Execute(ctx, func(ctx context.Context) error {
			return p.client.Login(ctx, botID)
		})
		if err == nil {
			p.setOnline(botID, true)
			metrics.BotLogins.WithLabelValues("success").Inc()
			p.log.Info("bot logged in", "bot_id", botID, "attempt", attempt)
			return nil
		}
		lastErr = err

		if attempt == p.cfg.MaxLoginAttempts {
			break
		}

		delay := p.cfg.LoginRetryDelay
		if errors.Is(err, steam.ErrRateLimited) {
			// 60s, 120s, 240s, ...
			delay = p.cfg.RateLimitBase << (attempt - 1)
			metrics.BotLogins.WithLabelValues("rate_limited").Inc()
		} else {
			metrics.BotLogins.WithLabelValues("failure").Inc()
		}
		p.log.Warn("bot login failed", "bot_id", botID, "attempt", attempt, "retry_in", delay, "error", err)
		p.sleep(delay)
	}

	p.setOnline(botID, false)
	metrics.BotLogins.WithLabelValues("exhausted").Inc()
	return apperrors.New(apperrors.ErrUpstream,
		fmt.Sprintf("bot %s registration failed after %d login attempts", botID, p.cfg.MaxLoginAttempts), lastErr)
}
