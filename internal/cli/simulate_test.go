package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/store"
	"github.com/roach88/cookiechain/internal/tx"
)

const fastConfig = `
ledger:
  latency: 1ms
engine:
  coalesce_window: 5ms
  finality_timeout: 5s
  refresh_interval: 50ms
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookiechain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func decodeSimulate(t *testing.T, out string) SimulateResult {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Data   SimulateResult `json:"data"`
	}
	require.NoError(t, decodeJSON(out, &resp), "output: %s", out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestSimulate_ClicksAndUpgrade(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	db := filepath.Join(t.TempDir(), "game.db")

	stdout, stderr, code := runCLI(t, "simulate", "--config", cfg, "--db", db, "--format", "json",
		"--clicks", "5", "--interval", "0", "--fund", "200", "--upgrade", "0")
	require.Equal(t, ExitSuccess, code, stderr)

	res := decodeSimulate(t, stdout)
	v := res.View
	assert.True(t, v.Initialized)
	assert.Equal(t, int64(105), v.Stats.TotalCookies, "200 funded + 5 clicks - 100 upgrade")
	assert.Equal(t, int64(2), v.Stats.ClickMultiplier)
	assert.Equal(t, [3]bool{true, false, false}, v.Stats.Upgrades)
	assert.Equal(t, v.Stats.TotalCookies, v.Optimistic, "settled view matches confirmed state")
	assert.Zero(t, v.Pending)
	assert.Zero(t, v.PendingClicks)
	assert.Equal(t, 7, res.Counts[tx.StatusConfirmed], "initialize, 5 clicks, upgrade")
	assert.Zero(t, res.Counts[tx.StatusFailed])

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	journaled, err := st.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, journaled[tx.StatusConfirmed])

	account, err := signerAccount(st)
	require.NoError(t, err)
	assert.Equal(t, account, v.Address)
}

func TestSimulate_UnaffordablePurchaseFails(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	db := filepath.Join(t.TempDir(), "game.db")

	stdout, stderr, code := runCLI(t, "simulate", "--config", cfg, "--db", db, "--format", "json",
		"--clicks", "2", "--interval", "0", "--upgrade", "1", "--auto-clicker", "0:1")
	require.Equal(t, ExitSuccess, code, stderr)

	res := decodeSimulate(t, stdout)
	assert.Equal(t, int64(2), res.View.Stats.TotalCookies)
	assert.Equal(t, int64(2), res.View.Optimistic)
	assert.Equal(t, 2, res.Counts[tx.StatusFailed])

	var reasons []string
	for _, r := range res.View.Records {
		if r.Status == tx.StatusFailed {
			reasons = append(reasons, r.FailureReason)
		}
	}
	assert.Equal(t, []string{tx.ReasonExecution, tx.ReasonExecution}, reasons)
}

func TestSimulate_WalletLeavesAccountAlone(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	db := filepath.Join(t.TempDir(), "game.db")

	stdout, stderr, code := runCLI(t, "simulate", "--config", cfg, "--db", db, "--format", "json",
		"--clicks", "3", "--interval", "1ms", "--wallet")
	require.Equal(t, ExitSuccess, code, stderr)
	res := decodeSimulate(t, stdout)
	assert.Equal(t, int64(3), res.View.Stats.TotalCookies)
	assert.NotEmpty(t, res.View.Address)

	_, _, code = runCLI(t, "account", "show", "--db", db)
	assert.Equal(t, ExitCommandError, code, "wallet sessions never create a local account")
}

func TestSimulate_ResumesInFlightRecords(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	db := filepath.Join(t.TempDir(), "game.db")

	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.SyncSnapshot(context.Background(), []tx.Record{
		{ID: "stale-submitted", Kind: tx.KindClick, Status: tx.StatusSubmitted, LedgerHandle: "0xdead", CreatedAt: 1},
		{ID: "stale-pending", Kind: tx.KindClick, Status: tx.StatusPending, CreatedAt: 2},
	}))
	require.NoError(t, st.Close())

	stdout, stderr, code := runCLI(t, "simulate", "--config", cfg, "--db", db, "--format", "json", "--clicks", "0")
	require.Equal(t, ExitSuccess, code, stderr)
	res := decodeSimulate(t, stdout)
	assert.Equal(t, 2, res.Resumed)

	st, err = store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	pending, err := st.ReadRecord(context.Background(), "stale-pending")
	require.NoError(t, err)
	assert.Equal(t, tx.StatusFailed, pending.Status)
	assert.Equal(t, tx.ReasonInterrupted, pending.FailureReason)

	submitted, err := st.ReadRecord(context.Background(), "stale-submitted")
	require.NoError(t, err)
	assert.Equal(t, tx.StatusFailed, submitted.Status, "handle unknown to this ledger")

	inFlight, err := st.LoadInFlight(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inFlight)
}

func TestSimulate_TextOutput(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	db := filepath.Join(t.TempDir(), "game.db")

	stdout, stderr, code := runCLI(t, "simulate", "--config", cfg, "--db", db, "--no-color",
		"--clicks", "1", "--interval", "0", "--fund", "1234567")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "Cookies:      1,234,568 (confirmed 1,234,568)")
	assert.Contains(t, stdout, "initialize")
	assert.Contains(t, stdout, "confirmed=2")
}

func TestSimulate_BadFlags(t *testing.T) {
	db := filepath.Join(t.TempDir(), "game.db")
	for _, args := range [][]string{
		{"--clicks", "-1"},
		{"--auto-clicker", "0"},
		{"--auto-clicker", "0:zero"},
		{"--auto-clicker", "1:0"},
	} {
		_, stderr, code := runCLI(t, append([]string{"simulate", "--db", db}, args...)...)
		assert.Equal(t, ExitCommandError, code, args)
		assert.Contains(t, stderr, CodeArgument, args)
	}
}

func TestParseAutoClicker(t *testing.T) {
	typeID, qty, err := parseAutoClicker(" 2 : 5 ")
	require.NoError(t, err)
	assert.Equal(t, 2, typeID)
	assert.Equal(t, 5, qty)
}

func signerAccount(st *store.Store) (string, error) {
	data, err := signer.NewAccounts(st).Load(context.Background())
	return data.Address, err
}
