package redeem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enkrypt/steam-redeemer/internal/extract"
	"github.com/enkrypt/steam-redeemer/internal/retry"
)

type fakeSubmitter struct {
	codes     []int
	submitted []string
	err       error
}

func (f *fakeSubmitter) RegisterKey(ctx context.Context, key string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.submitted = append(f.submitted, key)
	if len(f.codes) == 0 {
		return 0, nil
	}
	code := f.codes[0]
	f.codes = f.codes[1:]
	return code, nil
}

type fakeRevealer struct {
	key   string
	err   error
	calls int
}

func (f *fakeRevealer) RevealKey(ctx context.Context, machineName, gamekey string, keyIndex int) (string, error) {
	f.calls++
	return f.key, f.err
}

type recordingProgress struct {
	NopProgress
	recorded []int
	waits    int
}

func (p *recordingProgress) Recorded(e extract.Entitlement, code int, d Disposition) {
	p.recorded = append(p.recorded, code)
}

func (p *recordingProgress) RateLimited(name string, waited, remaining time.Duration) {
	p.waits++
}

func newTestEngine(t *testing.T, submitter *fakeSubmitter, revealer *fakeRevealer) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	sink := NewSink(dir)
	t.Cleanup(func() { sink.Close() })

	engine := NewEngine(revealer, submitter, sink)
	engine.RateLimit = retry.Policy{Interval: 2 * time.Second, Sleep: func(time.Duration) {}}
	return engine, dir
}

func TestRunRedeemsRevealedKey(t *testing.T) {
	submitter := &fakeSubmitter{}
	engine, _ := newTestEngine(t, submitter, &fakeRevealer{})

	summary, err := engine.Run(context.Background(), []extract.Entitlement{
		{HumanName: "Game A", GameKey: "gk1", RevealedKey: "AAAAA-BBBBB-CCCCC", Revealed: true},
	})
	require.NoError(t, err)

	assert.Equal(t, Summary{Redeemed: 1}, summary)
	assert.Equal(t, []string{"AAAAA-BBBBB-CCCCC"}, submitter.submitted)
}

func TestRunDuplicateAppIDSubmittedOnce(t *testing.T) {
	submitter := &fakeSubmitter{}
	progress := &recordingProgress{}
	engine, _ := newTestEngine(t, submitter, &fakeRevealer{})
	engine.Progress = progress

	gift := extract.Entitlement{
		HumanName: "Game A", GameKey: "gk1", SteamAppID: 440, HasAppID: true,
		RevealedKey: "AAAAA-BBBBB-CCCCC", Revealed: true,
	}
	giftCopy := gift
	giftCopy.HumanName = "Game A (gift)"
	giftCopy.GameKey = "gk2"
	giftCopy.RevealedKey = "DDDDD-EEEEE-FFFFF"

	summary, err := engine.Run(context.Background(), []extract.Entitlement{gift, giftCopy})
	require.NoError(t, err)

	assert.Len(t, submitter.submitted, 1)
	assert.Equal(t, Summary{Redeemed: 1, Owned: 1}, summary)
	assert.Equal(t, []int{CodeSuccess, CodeAlreadyOwned}, progress.recorded)
}

func TestRunDuplicateNameSubmittedOnce(t *testing.T) {
	submitter := &fakeSubmitter{}
	engine, _ := newTestEngine(t, submitter, &fakeRevealer{})

	a := extract.Entitlement{HumanName: "Game A", GameKey: "gk1", RevealedKey: "AAAAA-BBBBB-CCCCC", Revealed: true}
	b := extract.Entitlement{HumanName: "Game A", GameKey: "gk2", RevealedKey: "DDDDD-EEEEE-FFFFF", Revealed: true}

	summary, err := engine.Run(context.Background(), []extract.Entitlement{a, b})
	require.NoError(t, err)
	assert.Len(t, submitter.submitted, 1)
	assert.Equal(t, 1, summary.Owned)
}

func TestRunRevealsUnrevealedKey(t *testing.T) {
	submitter := &fakeSubmitter{}
	revealer := &fakeRevealer{key: "AAAAA-BBBBB-CCCCC"}
	engine, _ := newTestEngine(t, submitter, revealer)

	summary, err := engine.Run(context.Background(), []extract.Entitlement{
		{HumanName: "Game A", GameKey: "gk1", MachineName: "game_a", KeyIndex: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, revealer.calls)
	assert.Equal(t, Summary{Redeemed: 1}, summary)
}

func TestRunRevealFailureRecordedAsInvalid(t *testing.T) {
	submitter := &fakeSubmitter{}
	revealer := &fakeRevealer{err: errors.New("gift already claimed")}
	engine, dir := newTestEngine(t, submitter, revealer)

	summary, err := engine.Run(context.Background(), []extract.Entitlement{
		{HumanName: "Game A", GameKey: "gk1"},
	})
	require.NoError(t, err)

	assert.Empty(t, submitter.submitted)
	assert.Equal(t, Summary{Errors: 1}, summary)
	assert.Contains(t, readLog(t, dir, ErroredFile), "gk1")
}

func TestRunInvalidFormatNeverSubmitted(t *testing.T) {
	submitter := &fakeSubmitter{}
	engine, _ := newTestEngine(t, submitter, &fakeRevealer{})

	summary, err := engine.Run(context.Background(), []extract.Entitlement{
		{HumanName: "Game A", GameKey: "gk1", RevealedKey: "not-a-key", Revealed: true},
	})
	require.NoError(t, err)

	assert.Empty(t, submitter.submitted)
	assert.Equal(t, Summary{Errors: 1}, summary)
}

func TestRunRateLimitRetriesUntilSuccess(t *testing.T) {
	submitter := &fakeSubmitter{codes: []int{53, 53, 53, 0}}
	progress := &recordingProgress{}
	engine, _ := newTestEngine(t, submitter, &fakeRevealer{})
	engine.Progress = progress

	summary, err := engine.Run(context.Background(), []extract.Entitlement{
		{HumanName: "Game A", GameKey: "gk1", RevealedKey: "AAAAA-BBBBB-CCCCC", Revealed: true},
	})
	require.NoError(t, err)

	assert.Equal(t, Summary{Redeemed: 1}, summary)
	assert.Len(t, submitter.submitted, 4)
	assert.Equal(t, []int{CodeSuccess}, progress.recorded)
	assert.Positive(t, progress.waits)
}

func TestRunErrorCodesRecorded(t *testing.T) {
	submitter := &fakeSubmitter{codes: []int{13}}
	engine, dir := newTestEngine(t, submitter, &fakeRevealer{})

	summary, err := engine.Run(context.Background(), []extract.Entitlement{
		{HumanName: "Region Game", GameKey: "gk1", RevealedKey: "AAAAA-BBBBB-CCCCC", Revealed: true},
	})
	require.NoError(t, err)

	assert.Equal(t, Summary{Errors: 1}, summary)
	assert.Contains(t, readLog(t, dir, ErroredFile), "gk1,Region Game,AAAAA-BBBBB-CCCCC")
}

func TestRunAlreadyOwnedCode(t *testing.T) {
	submitter := &fakeSubmitter{codes: []int{9}}
	engine, dir := newTestEngine(t, submitter, &fakeRevealer{})

	summary, err := engine.Run(context.Background(), []extract.Entitlement{
		{HumanName: "Owned Game", GameKey: "gk1", RevealedKey: "AAAAA-BBBBB-CCCCC", Revealed: true},
	})
	require.NoError(t, err)

	assert.Equal(t, Summary{Owned: 1}, summary)
	assert.Contains(t, readLog(t, dir, AlreadyOwnedFile), "gk1")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	submitter := &fakeSubmitter{}
	engine, _ := newTestEngine(t, submitter, &fakeRevealer{})

	_, err := engine.Run(ctx, []extract.Entitlement{
		{HumanName: "Game A", GameKey: "gk1", RevealedKey: "AAAAA-BBBBB-CCCCC", Revealed: true},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, submitter.submitted)
}

func TestRunDispositionsFlushedPerEntitlement(t *testing.T) {
	submitter := &fakeSubmitter{}
	engine, dir := newTestEngine(t, submitter, &fakeRevealer{})

	// Progress hook observes the log file as each disposition lands
	var linesWhenRecorded []string
	engine.Progress = progressFunc(func(e extract.Entitlement, code int, d Disposition) {
		linesWhenRecorded = append(linesWhenRecorded, readLog(t, dir, RedeemedFile))
	})

	_, err := engine.Run(context.Background(), []extract.Entitlement{
		{HumanName: "A", GameKey: "gk1", RevealedKey: "AAAAA-BBBBB-CCCCC", Revealed: true},
		{HumanName: "B", GameKey: "gk2", RevealedKey: "DDDDD-EEEEE-FFFFF", Revealed: true},
	})
	require.NoError(t, err)

	require.Len(t, linesWhenRecorded, 2)
	assert.Contains(t, linesWhenRecorded[0], "gk1")
	assert.NotContains(t, linesWhenRecorded[0], "gk2")
	assert.Contains(t, linesWhenRecorded[1], "gk2")
}

// progressFunc adapts a function to the Progress interface's Recorded hook.
type progressFunc func(e extract.Entitlement, code int, d Disposition)

func (progressFunc) Current(string, string)                           {}
func (progressFunc) RateLimited(string, time.Duration, time.Duration) {}
func (f progressFunc) Recorded(e extract.Entitlement, code int, d Disposition) {
	f(e, code, d)
}
