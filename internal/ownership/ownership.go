// Package ownership decides which entitlements the user already owns on
// Steam, by exact identifier first and fuzzy name matching second, so
// single-use keys are not wasted on duplicates.
package ownership

import (
	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"github.com/rs/zerolog/log"

	"github.com/enkrypt/steam-redeemer/internal/extract"
	"github.com/enkrypt/steam-redeemer/pkg/steam"
)

// Fuzzy-match thresholds. The coarse token-set pass is tolerant of word
// reordering and duplication (edition/subtitle noise); the strict token-sort
// pass then rejects spurious permutation matches the coarse pass over-accepts.
const (
	coarseThreshold = 70 // candidates must score strictly above this
	strictThreshold = 35 // best strict score below this is rejected
)

// Index maps owned Steam identifiers to display names. Read-only after
// construction. A nil Index means ownership detection is unavailable.
type Index map[int]string

// BuildIndex filters the full catalog down to the identifiers the user owns.
func BuildIndex(owned map[int]struct{}, catalog []steam.App) Index {
	index := make(Index)
	for _, app := range catalog {
		if _, ok := owned[app.AppID]; ok {
			index[app.AppID] = app.Name
		}
	}
	log.Debug().Int("owned", len(owned)).Int("named", len(index)).Msg("Built ownership index")
	return index
}

// Match fuzzy-matches name against every owned name. Returns the strict
// score and matched identifier, or ok=false when nothing clears both
// thresholds. Exact identifier matches are the caller's short-circuit; this
// routine is the name-based fallback.
func Match(index Index, name string) (score, appID int, ok bool) {
	return match(index, name,
		func(owned, name string) int { return fuzzy.TokenSetRatio(owned, name) },
		func(owned, name string) int { return fuzzy.TokenSortRatio(owned, name) },
	)
}

// match applies the two-pass threshold selection with pluggable scorers.
// Candidates scoring at or below coarseThreshold never reach the strict
// pass; the best strict score wins unless it is below strictThreshold.
func match(index Index, name string, coarse, strict func(owned, name string) int) (score, appID int, ok bool) {
	bestScore, bestID := 0, 0
	for id, owned := range index {
		if coarse(owned, name) <= coarseThreshold {
			continue
		}
		if s := strict(owned, name); s > bestScore {
			bestScore, bestID = s, id
		}
	}
	if bestScore < strictThreshold {
		return 0, 0, false
	}
	return bestScore, bestID, true
}

// Filter splits entitlements into those worth attempting and those judged
// already owned. Exact app id membership wins outright and is dropped
// silently; only fuzzy-matched names land in skipped, since those verdicts
// are guesses the user may want to review. With a nil index everything
// passes through.
func Filter(index Index, keys []extract.Entitlement) (unowned []extract.Entitlement, skipped []string) {
	for _, key := range keys {
		if key.HasAppID {
			if _, owns := index[key.SteamAppID]; owns {
				continue
			}
		}
		if _, _, ok := Match(index, key.HumanName); ok {
			skipped = append(skipped, key.Name())
			continue
		}
		unowned = append(unowned, key)
	}
	return unowned, skipped
}

// RestrictToRevealed drops entitlements whose key has not been revealed yet.
// Used in degraded mode (no ownership data): revealing burns the gift-link
// option, so unrevealed keys are only attempted when the user insists.
func RestrictToRevealed(keys []extract.Entitlement) []extract.Entitlement {
	revealed := make([]extract.Entitlement, 0, len(keys))
	for _, key := range keys {
		if key.Revealed {
			revealed = append(revealed, key)
		}
	}
	return revealed
}
