package export

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enkrypt/steam-redeemer/internal/ownership"
)

type stubRevealer struct {
	key   string
	err   error
	calls int
}

func (s *stubRevealer) RevealKey(ctx context.Context, machineName, gamekey string, keyIndex int) (string, error) {
	s.calls++
	return s.key, s.err
}

func sampleOrders() []any {
	return []any{
		map[string]any{
			"tpkd_dict": map[string]any{
				"all_tpks": []any{
					map[string]any{
						"human_name":          "Steam Revealed",
						"gamekey":             "gk1",
						"machine_name":        "steam_revealed",
						"steam_app_id":        float64(440),
						"key_type_human_name": "Steam",
						"redeemed_key_val":    "AAAAA-BBBBB-CCCCC",
					},
					map[string]any{
						"human_name":          "Steam Hidden",
						"gamekey":             "gk2",
						"machine_name":        "steam_hidden",
						"keyindex":            float64(1),
						"steam_app_id":        float64(570),
						"key_type_human_name": "Steam",
					},
					map[string]any{
						"human_name":          "GOG Game",
						"gamekey":             "gk3",
						"machine_name":        "gog_game",
						"key_type_human_name": "GOG",
						"redeemed_key_val":    "GOGKEY123",
						"is_gift":             true,
					},
				},
			},
		},
	}
}

func readExport(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := strings.TrimPrefix(string(data), utf8BOM)
	require.NotEqual(t, string(data), content, "export must start with a BOM")
	return strings.Split(strings.TrimRight(content, "\n"), "\n")
}

func TestRunExportsAllKeyTypes(t *testing.T) {
	dir := t.TempDir()
	path, err := Run(context.Background(), nil, sampleOrders(), nil, Options{
		Revealed:   true,
		Unrevealed: true,
	}, dir)
	require.NoError(t, err)

	lines := readExport(t, path)
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Join(headers, ","), lines[0])
	assert.Equal(t, `"Steam Revealed","AAAAA-BBBBB-CCCCC","false","Steam","false",`, lines[1])
	assert.Equal(t, `"Steam Hidden",,"false","Steam","false",`, lines[2])
	assert.Equal(t, `"GOG Game","GOGKEY123","true","GOG","false",`, lines[3])
}

func TestRunSteamOnly(t *testing.T) {
	dir := t.TempDir()
	path, err := Run(context.Background(), nil, sampleOrders(), nil, Options{
		SteamOnly:  true,
		Revealed:   true,
		Unrevealed: true,
	}, dir)
	require.NoError(t, err)

	lines := readExport(t, path)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "Steam Revealed")
	assert.Contains(t, lines[2], "Steam Hidden")
}

func TestRunRevealedOnly(t *testing.T) {
	dir := t.TempDir()
	path, err := Run(context.Background(), nil, sampleOrders(), nil, Options{
		Revealed: true,
	}, dir)
	require.NoError(t, err)

	lines := readExport(t, path)
	require.Len(t, lines, 3)
	assert.NotContains(t, strings.Join(lines, "\n"), "Steam Hidden")
}

func TestRunNoSelection(t *testing.T) {
	_, err := Run(context.Background(), nil, sampleOrders(), nil, Options{}, t.TempDir())
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestRunRevealsHiddenKeys(t *testing.T) {
	revealer := &stubRevealer{key: "DDDDD-EEEEE-FFFFF"}
	dir := t.TempDir()
	path, err := Run(context.Background(), revealer, sampleOrders(), nil, Options{
		SteamOnly:  true,
		Revealed:   true,
		Unrevealed: true,
		Reveal:     true,
	}, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, revealer.calls)
	lines := readExport(t, path)
	assert.Equal(t, `"Steam Hidden","DDDDD-EEEEE-FFFFF","false","Steam","false",`, lines[2])
}

func TestRunRevealFailureExportsUnrevealed(t *testing.T) {
	revealer := &stubRevealer{err: errors.New("gift already claimed")}
	dir := t.TempDir()
	path, err := Run(context.Background(), revealer, sampleOrders(), nil, Options{
		SteamOnly:  true,
		Revealed:   true,
		Unrevealed: true,
		Reveal:     true,
	}, dir)
	require.NoError(t, err)

	lines := readExport(t, path)
	assert.Equal(t, `"Steam Hidden",,"false","Steam","false",`, lines[2])
}

func TestRunAnnotatesOwnership(t *testing.T) {
	index := ownership.Index{440: "Team Fortress 2"}
	dir := t.TempDir()
	path, err := Run(context.Background(), nil, sampleOrders(), index, Options{
		Revealed:   true,
		Unrevealed: true,
	}, dir)
	require.NoError(t, err)

	lines := readExport(t, path)
	// Exact app id membership
	assert.Equal(t, `"Steam Revealed","AAAAA-BBBBB-CCCCC","false","Steam","false","true"`, lines[1])
	// Steam key not in the index
	assert.Equal(t, `"Steam Hidden",,"false","Steam","false","false"`, lines[2])
	// Non-Steam keys never get an ownership verdict
	assert.True(t, strings.HasSuffix(lines[3], `"false",`))
}

func TestRunAnnotatesFuzzyOwnership(t *testing.T) {
	// Owned under a different app id but a near-identical name
	index := ownership.Index{999: "Steam Hidden Deluxe Edition"}
	dir := t.TempDir()
	path, err := Run(context.Background(), nil, sampleOrders(), index, Options{
		SteamOnly:  true,
		Unrevealed: true,
	}, dir)
	require.NoError(t, err)

	lines := readExport(t, path)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"true"`)
}

func TestRunQuotesEmbeddedQuotes(t *testing.T) {
	orders := []any{map[string]any{
		"human_name":          `The "Best" Game`,
		"gamekey":             "gk1",
		"key_type_human_name": "Steam",
		"redeemed_key_val":    "k",
	}}
	dir := t.TempDir()
	path, err := Run(context.Background(), nil, orders, nil, Options{Revealed: true}, dir)
	require.NoError(t, err)

	lines := readExport(t, path)
	assert.Contains(t, lines[1], `"The ""Best"" Game"`)
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 7, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "humble_export_20240307-150405.csv", Filename(at))
}
