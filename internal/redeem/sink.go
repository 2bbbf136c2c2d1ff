package redeem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/enkrypt/steam-redeemer/internal/extract"
)

// Result log filenames. Flat comma-delimited text, UTF-8 with BOM, columns:
// gamekey, name, revealed key. Other tools consume these, so the format is
// a compatibility contract.
const (
	RedeemedFile     = "redeemed.csv"
	AlreadyOwnedFile = "already_owned.csv"
	ErroredFile      = "errored.csv"
	SkippedFile      = "skipped.txt"
)

const utf8BOM = "\xef\xbb\xbf"

// Sink appends classified outcomes to the per-category result logs. Every
// record is flushed before Write returns, so a killed process never loses a
// completed disposition.
type Sink struct {
	dir   string
	files map[string]*os.File
}

// NewSink creates a sink writing into dir.
func NewSink(dir string) *Sink {
	return &Sink{dir: dir, files: make(map[string]*os.File)}
}

// Write appends one outcome to the log matching its result code.
func (s *Sink) Write(code int, e extract.Entitlement) error {
	file, err := s.file(fileForCode(code))
	if err != nil {
		return err
	}

	name := strings.ReplaceAll(e.HumanName, ",", ".")
	if _, err := fmt.Fprintf(file, "%s,%s,%s\n", e.GameKey, name, e.RevealedKey); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return file.Sync()
}

// Close closes all open log files.
func (s *Sink) Close() error {
	var firstErr error
	for _, file := range s.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = make(map[string]*os.File)
	return firstErr
}

func fileForCode(code int) string {
	switch {
	case code == CodeAlreadyOwned || code == CodeUsedElsewhere:
		return AlreadyOwnedFile
	case code != CodeSuccess:
		return ErroredFile
	default:
		return RedeemedFile
	}
}

func (s *Sink) file(name string) (*os.File, error) {
	if file, ok := s.files[name]; ok {
		return file, nil
	}

	path := filepath.Join(s.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	if info, err := file.Stat(); err == nil && info.Size() == 0 {
		if _, err := file.WriteString(utf8BOM); err != nil {
			file.Close()
			return nil, fmt.Errorf("write BOM: %w", err)
		}
	}

	s.files[name] = file
	return file, nil
}

// LoadSkipSet reads the result logs back into a set of already-processed
// cells. Best effort: missing or malformed files contribute nothing. An
// entitlement whose batch id appears in the set was handled by an earlier
// run.
func LoadSkipSet(dir string) map[string]struct{} {
	skip := make(map[string]struct{})
	for _, name := range []string{RedeemedFile, AlreadyOwnedFile, ErroredFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		content := strings.TrimPrefix(string(data), utf8BOM)
		for _, cell := range strings.Split(strings.ReplaceAll(content, "\n", ","), ",") {
			if cell = strings.TrimSpace(cell); cell != "" {
				skip[cell] = struct{}{}
			}
		}
	}
	return skip
}

// FilterPrevious drops entitlements whose batch id was processed by an
// earlier run.
func FilterPrevious(keys []extract.Entitlement, skip map[string]struct{}) []extract.Entitlement {
	if len(skip) == 0 {
		return keys
	}
	kept := make([]extract.Entitlement, 0, len(keys))
	for _, key := range keys {
		if _, done := skip[key.GameKey]; !done {
			kept = append(kept, key)
		}
	}
	return kept
}

// WriteSkipped records the names the ownership matcher skipped, one per
// line, for user review. Overwritten each run.
func WriteSkipped(dir string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(utf8BOM)
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteString("\n")
	}
	path := filepath.Join(dir, SkippedFile)
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", SkippedFile, err)
	}
	log.Info().Int("count", len(names)).Str("file", path).Msg("Wrote fuzzy-matched skips for review")
	return nil
}
