package redeem

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enkrypt/steam-redeemer/internal/extract"
	"github.com/enkrypt/steam-redeemer/internal/retry"
)

// RateLimitWindow is how long the registration endpoint throttles an
// account before another attempt is worthwhile.
const RateLimitWindow = 3600 * time.Second

// Revealer fetches the raw key string for an unrevealed entitlement.
type Revealer interface {
	RevealKey(ctx context.Context, machineName, gamekey string, keyIndex int) (string, error)
}

// Submitter submits a key for activation and returns the raw result code.
type Submitter interface {
	RegisterKey(ctx context.Context, key string) (int, error)
}

// Progress receives display events from the engine. Implementations own all
// terminal rendering; the engine never prints.
type Progress interface {
	// Current announces the entitlement being worked on and a short detail.
	Current(name, detail string)
	// RateLimited reports wait progress during a throttled window.
	RateLimited(name string, waited, remaining time.Duration)
	// Recorded reports a terminal disposition.
	Recorded(e extract.Entitlement, code int, d Disposition)
}

// NopProgress discards all progress events.
type NopProgress struct{}

func (NopProgress) Current(string, string)                           {}
func (NopProgress) RateLimited(string, time.Duration, time.Duration) {}
func (NopProgress) Recorded(extract.Entitlement, int, Disposition)   {}

// Summary tallies a run.
type Summary struct {
	Redeemed int
	Owned    int
	Errors   int
}

// Total returns the number of recorded dispositions.
func (s Summary) Total() int {
	return s.Redeemed + s.Owned + s.Errors
}

// Engine drives redemption for a filtered, de-duplicated candidate list.
// Submission is strictly sequential: the registration endpoint rate-limits
// per account, and the seen-set and result logs are single-writer.
type Engine struct {
	Revealer  Revealer
	Submitter Submitter
	Sink      *Sink
	RateLimit retry.Policy
	Progress  Progress

	seen map[string]struct{}
}

// NewEngine creates an engine with the default one-hour rate-limit window.
func NewEngine(revealer Revealer, submitter Submitter, sink *Sink) *Engine {
	return &Engine{
		Revealer:  revealer,
		Submitter: submitter,
		Sink:      sink,
		RateLimit: retry.Policy{Interval: RateLimitWindow},
		Progress:  NopProgress{},
	}
}

// Run processes every entitlement in order. Each one reaches exactly one
// terminal disposition, flushed to the sink before the next begins, so a
// killed run resumes cleanly from the logs. Returns early only when the
// context is cancelled.
func (e *Engine) Run(ctx context.Context, keys []extract.Entitlement) (Summary, error) {
	e.seen = make(map[string]struct{})
	var summary Summary

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := e.redeemOne(ctx, key, &summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (e *Engine) redeemOne(ctx context.Context, key extract.Entitlement, summary *Summary) error {
	name := key.HumanName
	e.Progress.Current(name, "")

	// Duplicate within this run: several entitlements can refer to the same
	// product (gift copies). Burning a second key would waste it.
	if e.isDuplicate(key) {
		return e.record(CodeAlreadyOwned, key, summary)
	}
	e.markSeen(key)

	if !key.Revealed {
		e.Progress.Current(name, "revealing key")
		revealed, err := e.Revealer.RevealKey(ctx, key.MachineName, key.GameKey, key.KeyIndex)
		if err != nil {
			// Falls through to format validation, which rejects it
			log.Warn().Err(err).Str("name", name).Msg("Key reveal failed")
			revealed = ""
		}
		key.RevealedKey = revealed
		key.Revealed = true
	}

	if !ValidKey(key.RevealedKey) {
		return e.record(CodeInvalidFormat, key, summary)
	}

	e.Progress.Current(name, "redeeming")
	code, err := e.submit(ctx, key.RevealedKey)
	if err != nil {
		return err
	}

	for code == CodeRateLimited {
		if err := e.RateLimit.Wait(ctx, func(waited, remaining time.Duration) {
			e.Progress.RateLimited(name, waited, remaining)
		}); err != nil {
			return err
		}
		e.Progress.Current(name, "retrying")
		if code, err = e.submit(ctx, key.RevealedKey); err != nil {
			return err
		}
	}

	return e.record(code, key, summary)
}

// submit wraps the submitter; transport failures count as rate limiting so
// the retry path engages instead of dropping the entitlement.
func (e *Engine) submit(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	code, err := e.Submitter.RegisterKey(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		log.Warn().Err(err).Msg("Key submission failed, treating as rate limit")
		return CodeRateLimited, nil
	}
	return code, nil
}

func (e *Engine) record(code int, key extract.Entitlement, summary *Summary) error {
	disposition := Classify(code)
	switch disposition {
	case Redeemed:
		summary.Redeemed++
	case AlreadyOwned:
		summary.Owned++
	default:
		summary.Errors++
	}

	if err := e.Sink.Write(code, key); err != nil {
		return err
	}

	log.Debug().Str("name", key.HumanName).Int("code", code).Str("result", Label(code)).Msg("Recorded disposition")
	e.Progress.Recorded(key, code, disposition)
	return nil
}

func (e *Engine) isDuplicate(key extract.Entitlement) bool {
	if _, dup := e.seen[nameSeenKey(key)]; dup {
		return true
	}
	if key.HasAppID {
		if _, dup := e.seen[appSeenKey(key)]; dup {
			return true
		}
	}
	return false
}

func (e *Engine) markSeen(key extract.Entitlement) {
	e.seen[nameSeenKey(key)] = struct{}{}
	if key.HasAppID {
		e.seen[appSeenKey(key)] = struct{}{}
	}
}

func nameSeenKey(key extract.Entitlement) string {
	return "name:" + key.HumanName
}

func appSeenKey(key extract.Entitlement) string {
	return "app:" + strconv.Itoa(key.SteamAppID)
}
