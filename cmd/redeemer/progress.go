package main

import (
	"fmt"
	"os"
	"time"

	"github.com/enkrypt/steam-redeemer/internal/extract"
	"github.com/enkrypt/steam-redeemer/internal/redeem"
)

// consoleProgress renders per-key redemption progress to stdout. The
// rate-limit countdown rewrites a single line once per tick so an hour-long
// wait does not scroll the results away.
type consoleProgress struct {
	waiting bool
}

func (p *consoleProgress) Current(name, detail string) {
	p.endWait()
	if detail != "" {
		fmt.Printf("  %s: %s\n", name, detail)
	}
}

func (p *consoleProgress) RateLimited(name string, waited, remaining time.Duration) {
	p.waiting = true
	fmt.Printf("\r  %s: rate limited, retrying in %s  ", name, remaining.Round(time.Second))
}

func (p *consoleProgress) Recorded(e extract.Entitlement, code int, d redeem.Disposition) {
	p.endWait()

	switch d {
	case redeem.Redeemed:
		fmt.Printf("✓ %s\n", e.Name())
	case redeem.AlreadyOwned:
		fmt.Printf("- %s (%s)\n", e.Name(), redeem.Label(code))
	default:
		fmt.Fprintf(os.Stderr, "✗ %s (%s)\n", e.Name(), redeem.Label(code))
	}
}

func (p *consoleProgress) endWait() {
	if p.waiting {
		fmt.Println()
		p.waiting = false
	}
}
