package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/equilibrium/internal/config"
	"github.com/danielpatrickdp/equilibrium/internal/eval"
	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/state"
	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

// testDB clears environment overrides and returns a fresh database path.
func testDB(t *testing.T) string {
	t.Helper()
	for _, k := range []string{config.EnvDB, config.EnvListen, config.EnvSecret, config.EnvDigits} {
		t.Setenv(k, "")
	}
	return filepath.Join(t.TempDir(), "cli.db")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp.Data
}

func createSubject(t *testing.T, db, entropy string) identity.GenesisRecord {
	t.Helper()
	out, err := run(t, "", "--db", db, "--format", "json", "genesis", "--entropy", entropy)
	require.NoError(t, err)
	rec := decodeData[identity.GenesisRecord](t, out)
	require.NotEmpty(t, rec.ID)
	return rec
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestGenesisVerifyLock(t *testing.T) {
	db := testDB(t)
	rec := createSubject(t, db, "alice")
	assert.False(t, rec.Locked)

	again := createSubject(t, db, "alice")
	assert.Equal(t, rec.Offset, again.Offset, "same entropy selects the same offset")
	assert.NotEqual(t, rec.ID, again.ID)

	out, err := run(t, "", "--db", db, "verify", rec.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")

	out, err = run(t, "", "--db", db, "--format", "json", "lock", rec.ID)
	require.NoError(t, err)
	locked := decodeData[identity.GenesisRecord](t, out)
	assert.True(t, locked.Locked)
	assert.NotEmpty(t, locked.RootSignature)

	_, err = run(t, "", "--db", db, "lock", rec.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrAlreadyLocked)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestVerifyDetectsTamper(t *testing.T) {
	db := testDB(t)
	rec := createSubject(t, db, "bob")

	st, err := state.NewStore(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE genesis_records SET vertex_x = vertex_x + 1 WHERE id = ?`, rec.ID)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := run(t, "", "--db", db, "verify", rec.ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "vertexX")

	_, err = run(t, "", "--db", db, "encode", rec.ID, "click_rate", "2")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrTampered)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestEncodePersistsAcrossRuns(t *testing.T) {
	db := testDB(t)
	rec := createSubject(t, db, "carol")

	out, err := run(t, "", "--db", db, "--format", "json", "encode", rec.ID, "scroll_depth", "0.2", "0.4", "--decode")
	require.NoError(t, err)
	enc := decodeData[EncodeOutput](t, out)
	require.Len(t, enc.Rows, 2)
	require.NotNil(t, enc.Rows[0].Decoded)
	assert.InDelta(t, 0.2, enc.Rows[0].Decoded.Value, 1e-6)
	assert.NotEmpty(t, enc.VersionID)

	_, err = run(t, "", "--db", db, "encode", rec.ID, "scroll_depth", "0.6", "0.8")
	require.NoError(t, err)

	out, err = run(t, "", "--db", db, "--format", "json", "predict", rec.ID)
	require.NoError(t, err)
	p := decodeData[trajectory.Prediction](t, out)
	assert.Equal(t, 4, p.DataPoints)
	assert.NotNil(t, p.Path)

	out, err = run(t, "", "--db", db, "--format", "json", "snapshot", "list", rec.ID)
	require.NoError(t, err)
	rows := decodeData[[]SnapshotRow](t, out)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Active)
	assert.Equal(t, 4, rows[0].DataPoints)
	assert.Equal(t, rows[1].VersionID, rows[0].ParentID)

	_, err = run(t, "", "--db", db, "snapshot", "rollback", rec.ID, rows[1].VersionID)
	require.NoError(t, err)
	out, err = run(t, "", "--db", db, "--format", "json", "predict", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, decodeData[trajectory.Prediction](t, out).DataPoints)
}

func TestEncodeRejectsBadInput(t *testing.T) {
	db := testDB(t)
	rec := createSubject(t, db, "dave")

	_, err := run(t, "", "--db", db, "encode", rec.ID, "click_rate", "fast")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, "", "--db", db, "score", "no-such-subject")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestActionAndScore(t *testing.T) {
	db := testDB(t)
	rec := createSubject(t, db, "erin")

	_, err := run(t, "", append([]string{"--db", db, "action", rec.ID}, repeat("0.85", 10)...)...)
	require.NoError(t, err)

	out, err := run(t, "", "--db", db, "--format", "json", "score", rec.ID)
	require.NoError(t, err)
	res := decodeData[gate.Result](t, out)
	assert.True(t, res.Gated)
	assert.Equal(t, gate.Partial, res.Tier)
	assert.Equal(t, 11, res.Remaining)

	out, err = run(t, "", append([]string{"--db", db, "--format", "json", "action", rec.ID}, repeat("0.85", 40)...)...)
	require.NoError(t, err)
	assert.Equal(t, 50, decodeData[ActionOutput](t, out).HistoryLength)

	out, err = run(t, "", "--db", db, "--format", "json", "score", rec.ID)
	require.NoError(t, err)
	res = decodeData[gate.Result](t, out)
	assert.False(t, res.Gated)
	assert.GreaterOrEqual(t, res.Tier, gate.Full)
	require.NotNil(t, res.Diagnostics)

	out, err = run(t, "", "--db", db, "score", rec.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "tier: "+res.Tier.String())
}

func TestReplayAuditLog(t *testing.T) {
	db := testDB(t)
	rec := createSubject(t, db, "frank")

	_, err := run(t, "", append([]string{"--db", db, "action", rec.ID}, repeat("0.1", 30)...)...)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = run(t, "", "--db", db, "score", rec.ID)
		require.NoError(t, err)
	}

	out, err := run(t, "", "--db", db, "--format", "json", "replay", "--audit", "--subject", rec.ID)
	require.NoError(t, err)
	res := decodeData[ReplayOutput](t, out)
	assert.Equal(t, "audit", res.Source)
	assert.Equal(t, 2, res.Total)
	assert.True(t, res.AllPass)

	fixture := filepath.Join(t.TempDir(), "exported.json")
	_, err = run(t, "", "--db", db, "replay", "--audit", "--export", fixture)
	require.NoError(t, err)
	out, err = run(t, "", "--format", "json", "replay", "--fixture", fixture)
	require.NoError(t, err)
	res = decodeData[ReplayOutput](t, out)
	assert.Equal(t, "fixture", res.Source)
	assert.Equal(t, 2, res.Total)
	assert.True(t, res.AllPass)
}

func TestReplayFixtures(t *testing.T) {
	testDB(t)
	out, err := run(t, "", "replay",
		"--fixture", filepath.Join("..", "replay", "testdata", "scenarios.json"),
		"--fixture", filepath.Join("..", "replay", "testdata", "light_ratio.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "All cases reproduced")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{
  "cases": [
    {"name": "constant_low", "segments": [{"scores": [0.1], "repeat": 30}], "expected": {"tier": "SOVEREIGN"}}
  ]
}`), 0o644))

	out, err = run(t, "", "--format", "json", "replay", "--fixture", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	res := decodeData[ReplayOutput](t, out)
	assert.Equal(t, 1, res.Failed)
	assert.NotEmpty(t, res.Cases[0].Failures)

	_, err = run(t, "", "replay")
	require.Error(t, err)
}

func TestOwnershipProveVerify(t *testing.T) {
	db := testDB(t)
	rec := createSubject(t, db, "grace")
	_, err := run(t, "", "--db", db, "encode", rec.ID, "typing_speed", "60", "72")
	require.NoError(t, err)

	proofPath := filepath.Join(t.TempDir(), "proof.json")
	_, err = run(t, "", "--db", db, "ownership", "prove", rec.ID, "--out", proofPath)
	require.NoError(t, err)

	out, err := run(t, "", "--db", db, "--format", "json", "ownership", "verify", "--proof", proofPath, "--subject", rec.ID)
	require.NoError(t, err)
	res := decodeData[OwnershipResult](t, out)
	assert.True(t, res.Valid)
	assert.Equal(t, rec.Offset, res.Offset)

	data, err := os.ReadFile(proofPath)
	require.NoError(t, err)
	var p identity.OwnershipProof
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, 2, p.Data.HistoryLength)

	p.Data.HistoryLength = 99
	forged, err := json.Marshal(p)
	require.NoError(t, err)
	out, err = run(t, string(forged), "--db", db, "ownership", "verify", "--proof", "-")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗")
}

func TestOwnershipSealVerifySeal(t *testing.T) {
	db := testDB(t)
	rec := createSubject(t, db, "judy")
	_, err := run(t, "", "--db", db, "lock", rec.ID)
	require.NoError(t, err)

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "seal.key")
	require.NoError(t, os.WriteFile(keyPath, []byte(strings.Repeat("ab", 32)+"\n"), 0o600))
	sealPath := filepath.Join(dir, "seal.json")

	out, err := run(t, "", "--db", db, "--format", "json", "ownership", "seal", rec.ID, "--key", keyPath, "--out", sealPath)
	require.NoError(t, err)
	seal := decodeData[identity.Seal](t, out)
	assert.Len(t, seal.PublicKey, 64)

	out, err = run(t, "", "--db", db, "--format", "json", "ownership", "verify-seal", rec.ID, "--seal", sealPath)
	require.NoError(t, err)
	assert.True(t, decodeData[SealResult](t, out).Valid)

	other := createSubject(t, db, "kai")
	data, err := os.ReadFile(sealPath)
	require.NoError(t, err)
	out, err = run(t, string(data), "--db", db, "ownership", "verify-seal", other.ID, "--seal", "-")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗")

	require.NoError(t, os.WriteFile(keyPath, []byte("abcd"), 0o600))
	_, err = run(t, "", "--db", db, "ownership", "seal", rec.ID, "--key", keyPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInspect(t *testing.T) {
	db := testDB(t)
	a := createSubject(t, db, "heidi")
	b := createSubject(t, db, "ivan")

	out, err := run(t, "", "--db", db, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, a.ID)
	assert.Contains(t, out, b.ID)

	_, err = run(t, "", "--db", db, "score", a.ID)
	require.NoError(t, err)

	out, err = run(t, "", "--db", db, "--format", "json", "inspect", a.ID, "--trigger", "score")
	require.NoError(t, err)
	detail := decodeData[SubjectDetail](t, out)
	assert.Equal(t, a.ID, detail.Genesis.ID)
	require.Len(t, detail.Decisions, 1)
	assert.Equal(t, "score", detail.Decisions[0].Trigger)
	assert.Equal(t, gate.Partial.String(), detail.Decisions[0].Decision)
}

func TestSelfCheck(t *testing.T) {
	testDB(t)
	cfgPath := filepath.Join(t.TempDir(), "equilibrium.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
eval:
  determinism_runs: 5
  determinism_offsets: 3
  uniqueness_pairs: 50
  round_trip_samples: 5
  pi_check_digits: 200
`), 0o644))

	out, err := run(t, "", "--config", cfgPath, "--format", "json", "selfcheck")
	require.NoError(t, err)
	res := decodeData[eval.EvalResult](t, out)
	assert.True(t, res.Passed, res.Reason)
	assert.NotEmpty(t, res.Metrics)
}
