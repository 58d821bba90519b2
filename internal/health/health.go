// Package health polls a readiness URL until it answers 2xx or the retry
// budget is spent. It never touches the probed process.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/stackctl/internal/retry"
)

// Result of one probe run.
type Result struct {
	Ready    bool
	Attempts int
	Elapsed  time.Duration
	Err      error // last failure when not ready
}

type Prober struct {
	policy retry.Policy
	client *http.Client
	logger *slog.Logger
}

// New builds a prober. Each attempt is bounded by the policy interval and
// counts against the pause after it, so a run never outlasts the budget by
// more than one interval's slack.
func New(policy retry.Policy, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	policy.Paced = true
	timeout := policy.Interval
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Prober{
		policy: policy,
		client: &http.Client{
			Timeout: timeout,
			// readiness endpoints must answer themselves
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger: logger,
	}
}

// Policy returns the retry policy in use.
func (p *Prober) Policy() retry.Policy { return p.policy }

// Probe issues GET url until a 2xx answer. 3xx counts as failure.
func (p *Prober) Probe(ctx context.Context, url string) Result {
	start := time.Now()
	p.logger.Debug("probing", "url", url, "attempts", p.policy.MaxAttempts, "budget", p.policy.Budget())
	attempts, err := p.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		err := p.once(ctx, url)
		if err != nil {
			p.logger.Debug("probe failed", "url", url, "attempt", attempt, "error", err)
		}
		return err
	})
	res := Result{Ready: err == nil, Attempts: attempts, Elapsed: time.Since(start), Err: err}
	if res.Ready {
		p.logger.Debug("ready", "url", url, "attempts", attempts)
	}
	return res
}

func (p *Prober) once(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
