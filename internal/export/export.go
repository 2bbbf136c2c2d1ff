// Package export writes the key library to a timestamped CSV for use
// outside this tool, optionally annotated with Steam ownership.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enkrypt/steam-redeemer/internal/extract"
	"github.com/enkrypt/steam-redeemer/internal/ownership"
)

var headers = []string{
	"human_name",
	"redeemed_key_val",
	"is_gift",
	"key_type_human_name",
	"is_expired",
	"steam_ownership",
}

const utf8BOM = "\xef\xbb\xbf"

// ErrNoSelection is returned when the options exclude both revealed and
// unrevealed keys, which selects nothing.
var ErrNoSelection = errors.New("export selects no keys: both revealed and unrevealed excluded")

// Revealer fetches the raw key string for an unrevealed entitlement.
type Revealer interface {
	RevealKey(ctx context.Context, machineName, gamekey string, keyIndex int) (string, error)
}

// Options controls which keys are exported.
type Options struct {
	SteamOnly  bool
	Revealed   bool
	Unrevealed bool

	// Reveal fetches the key string for every selected unrevealed
	// entitlement before writing. Irreversible: it burns the gift-link
	// option on Humble, so callers must confirm with the user first.
	Reveal bool
}

type row struct {
	e     extract.Entitlement
	owned *bool
}

// Run selects, optionally reveals, optionally annotates, and writes the
// export file into dir. Returns the written path. The revealer may be nil
// when Options.Reveal is false; a nil ownership index skips annotation.
func Run(ctx context.Context, revealer Revealer, orderDetails []any, index ownership.Index, opts Options, dir string) (string, error) {
	if !opts.Revealed && !opts.Unrevealed {
		return "", ErrNoSelection
	}

	keys := selectKeys(orderDetails, opts)
	rows := make([]row, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !key.Revealed && opts.Reveal {
			revealed, err := revealer.RevealKey(ctx, key.MachineName, key.GameKey, key.KeyIndex)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				log.Warn().Err(err).Str("name", key.Name()).Msg("Key reveal failed, exporting unrevealed")
			} else {
				key.RevealedKey = revealed
				key.Revealed = true
			}
		}
		rows = append(rows, annotate(key, index))
	}

	path := filepath.Join(dir, Filename(time.Now()))
	if err := writeCSV(path, rows); err != nil {
		return "", err
	}
	log.Info().Int("keys", len(rows)).Str("file", path).Msg("Exported key library")
	return path, nil
}

// Filename returns the timestamped export filename for the given moment.
func Filename(now time.Time) string {
	return "humble_export_" + now.Format("20060102-150405") + ".csv"
}

func selectKeys(orderDetails []any, opts Options) []extract.Entitlement {
	var all []extract.Entitlement
	if opts.SteamOnly {
		all = extract.SteamKeys(orderDetails)
	} else {
		all = extract.AllKeys(orderDetails)
	}

	selected := make([]extract.Entitlement, 0, len(all))
	for _, key := range all {
		if (opts.Revealed && key.Revealed) || (opts.Unrevealed && !key.Revealed) {
			selected = append(selected, key)
		}
	}
	return selected
}

// annotate resolves Steam ownership for one entitlement: exact identifier
// membership first, fuzzy name match second. Non-Steam keys and nil indexes
// leave the column blank.
func annotate(e extract.Entitlement, index ownership.Index) row {
	r := row{e: e}
	if index == nil || !e.HasAppID {
		return r
	}
	owned := false
	if _, ok := index[e.SteamAppID]; ok {
		owned = true
	} else if _, _, ok := ownership.Match(index, e.Name()); ok {
		owned = true
	}
	r.owned = &owned
	return r
}

func writeCSV(path string, rows []row) error {
	var sb strings.Builder
	sb.WriteString(utf8BOM)
	sb.WriteString(strings.Join(headers, ","))
	sb.WriteString("\n")

	for _, r := range rows {
		cells := []string{
			quote(r.e.HumanName),
			keyCell(r.e),
			quote(strconv.FormatBool(r.e.IsGift)),
			quote(r.e.KeyType),
			quote(strconv.FormatBool(r.e.IsExpired)),
			ownershipCell(r),
		}
		sb.WriteString(strings.Join(cells, ","))
		sb.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// keyCell leaves unrevealed keys blank rather than quoting an empty string,
// so a spreadsheet user can tell "not revealed" from "revealed to nothing".
func keyCell(e extract.Entitlement) string {
	if !e.Revealed {
		return ""
	}
	return quote(e.RevealedKey)
}

func ownershipCell(r row) string {
	if r.owned == nil {
		return ""
	}
	return quote(strconv.FormatBool(*r.owned))
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
