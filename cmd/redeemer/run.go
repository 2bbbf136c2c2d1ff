package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/enkrypt/steam-redeemer/internal/config"
	"github.com/enkrypt/steam-redeemer/internal/export"
	"github.com/enkrypt/steam-redeemer/internal/extract"
	"github.com/enkrypt/steam-redeemer/internal/logging"
	"github.com/enkrypt/steam-redeemer/internal/ownership"
	"github.com/enkrypt/steam-redeemer/internal/redeem"
	"github.com/enkrypt/steam-redeemer/pkg/humble"
	"github.com/enkrypt/steam-redeemer/pkg/steam"
)

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logPath := cfg.LogFile
	if logPath != "" && !filepath.IsAbs(logPath) {
		logPath = filepath.Join(cfg.DataDir, logPath)
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "redeemer",
		FilePath:  logPath,
	})
	return cfg, nil
}

func runRedeem(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	var prompt *terminalPrompter
	if !flagAuto {
		prompt = newTerminalPrompter()
	}

	hClient, details, err := fetchLibrary(ctx, cfg, prompt)
	if err != nil {
		return err
	}

	keys := extract.SteamKeys(details)
	log.Info().Int("keys", len(keys)).Msg("Found Steam entitlements")

	before := len(keys)
	keys = redeem.FilterPrevious(keys, redeem.LoadSkipSet(cfg.DataDir))
	if n := before - len(keys); n > 0 {
		fmt.Printf("Filtered %d keys handled by previous runs\n", n)
	}
	if len(keys) == 0 {
		fmt.Println("Nothing left to redeem.")
		return nil
	}

	sClient, err := steam.NewClient(steam.ClientConfig{CookieFile: cfg.SteamCookiePath()})
	if err != nil {
		return err
	}
	if err := sClient.Login(ctx, steamPrompter(prompt)); err != nil {
		return loginHint(err)
	}

	index, err := buildOwnershipIndex(ctx, cfg, sClient, prompt)
	if err != nil {
		return err
	}

	candidates, skipped := selectCandidates(index, keys, flagRevealAll)
	reportSkipped(cfg.DataDir, skipped)
	if index == nil && !flagRevealAll {
		fmt.Printf("No ownership data: attempting only the %d already-revealed keys (--reveal-all overrides)\n", len(candidates))
	}

	revealed := 0
	for _, key := range candidates {
		if key.Revealed {
			revealed++
		}
	}
	fmt.Printf("Attempting %d keys (%d revealed, %d unrevealed)\n", len(candidates), revealed, len(candidates)-revealed)

	sink := redeem.NewSink(cfg.DataDir)
	defer sink.Close()

	engine := redeem.NewEngine(hClient, sClient, sink)
	engine.Progress = &consoleProgress{}

	summary, err := engine.Run(ctx, candidates)
	if err != nil {
		return err
	}

	fmt.Printf("\nDone: %d redeemed, %d already owned, %d errors (%d total)\n",
		summary.Redeemed, summary.Owned, summary.Errors, summary.Total())
	return nil
}

func runExport(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	var prompt *terminalPrompter
	if !flagAuto {
		prompt = newTerminalPrompter()
	}

	hClient, details, err := fetchLibrary(ctx, cfg, prompt)
	if err != nil {
		return err
	}

	// Revealing is irreversible; double-check when a human is present.
	if exportOpts.Reveal && prompt != nil {
		if !prompt.confirm("Reveal ALL selected unrevealed keys on Humble? This cannot be undone") {
			exportOpts.Reveal = false
		}
	}

	var index ownership.Index
	if exportOwnership {
		sClient, err := steam.NewClient(steam.ClientConfig{CookieFile: cfg.SteamCookiePath()})
		if err != nil {
			return err
		}
		if err := sClient.Login(ctx, steamPrompter(prompt)); err != nil {
			return loginHint(err)
		}
		if index, err = buildOwnershipIndex(ctx, cfg, sClient, prompt); err != nil {
			return err
		}
	}

	path, err := export.Run(ctx, hClient, details, index, exportOpts, cfg.DataDir)
	if err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", path)
	return nil
}

// selectCandidates decides which keys the engine attempts. With ownership
// data, owned keys are filtered out and the fuzzy-matched names returned
// for review. Without it, only already-revealed keys are attempted unless
// revealAll: revealing burns the gift-link option, so unrevealed keys need
// either ownership evidence or the user's explicit say-so.
func selectCandidates(index ownership.Index, keys []extract.Entitlement, revealAll bool) (candidates []extract.Entitlement, skipped []string) {
	if index != nil {
		return ownership.Filter(index, keys)
	}
	if revealAll {
		return keys, nil
	}
	return ownership.RestrictToRevealed(keys), nil
}

// reportSkipped writes the fuzzy-matched skip list for review. The file is
// advisory, so a write failure never stops the run.
func reportSkipped(dir string, skipped []string) {
	if len(skipped) == 0 {
		return
	}
	if err := redeem.WriteSkipped(dir, skipped); err != nil {
		log.Warn().Err(err).Msg("Unable to write skipped-keys review file")
	}
	fmt.Printf("Skipping %d keys matched to games you already own (review %s)\n", len(skipped), redeem.SkippedFile)
}

// fetchLibrary signs into Humble and pulls every order's detail payload.
func fetchLibrary(ctx context.Context, cfg *config.Config, prompt *terminalPrompter) (*humble.Client, []any, error) {
	hClient, err := humble.NewClient(humble.ClientConfig{CookieFile: cfg.HumbleCookiePath()})
	if err != nil {
		return nil, nil, err
	}
	if err := hClient.Login(ctx, humblePrompter(prompt)); err != nil {
		return nil, nil, loginHint(err)
	}

	orders, err := hClient.Orders(ctx)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("Fetching %d orders from Humble Bundle...\n", len(orders))

	details, err := hClient.AllOrderDetails(ctx, orders, humble.DefaultOrderWorkers)
	if err != nil {
		return nil, nil, err
	}
	return hClient, details, nil
}

// buildOwnershipIndex assembles the owned-content index. Any non-fatal
// failure degrades to a nil index rather than aborting the run.
func buildOwnershipIndex(ctx context.Context, cfg *config.Config, sClient *steam.Client, prompt *terminalPrompter) (ownership.Index, error) {
	owned, err := sClient.OwnedIDs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Msg("Owned-content fetch failed, ownership detection disabled")
		return nil, nil
	}

	apiKey := cfg.SteamAPIKey
	if apiKey == "" && prompt != nil {
		apiKey, err = prompt.Ask("Steam Web API key (blank to skip ownership detection)")
		if err != nil {
			return nil, err
		}
		if apiKey != "" {
			if err := cfg.SaveSteamAPIKey(apiKey); err != nil {
				log.Warn().Err(err).Msg("Unable to persist API key")
			}
		}
	}
	if apiKey == "" {
		return nil, nil
	}

	fmt.Println("Fetching the Steam catalog, this takes a moment...")
	catalog, err := sClient.AppList(ctx, apiKey)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Msg("Catalog fetch failed, ownership detection disabled")
		return nil, nil
	}
	return ownership.BuildIndex(owned, catalog), nil
}

// humblePrompter converts a possibly-nil concrete prompter into the
// interface without producing a typed-nil interface value.
func humblePrompter(p *terminalPrompter) humble.Prompter {
	if p == nil {
		return nil
	}
	return p
}

func steamPrompter(p *terminalPrompter) steam.Prompter {
	if p == nil {
		return nil
	}
	return p
}

func loginHint(err error) error {
	if errors.Is(err, humble.ErrSessionExpired) || errors.Is(err, steam.ErrSessionExpired) {
		return fmt.Errorf("%w; run once without --auto to sign in", err)
	}
	return err
}
