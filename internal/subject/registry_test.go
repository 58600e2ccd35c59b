package subject

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/equilibrium/internal/digits"
	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
	"github.com/danielpatrickdp/equilibrium/internal/state"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.UnixMilli(1_750_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func memoryRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(digits.Pi(), DefaultConfig(), nil)
	require.NoError(t, err)
	r.SetClock(fixedClock())
	return r
}

func storeRegistry(t *testing.T, path string) (*Registry, *state.Store) {
	t.Helper()
	st, err := state.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	r, err := NewRegistry(digits.Pi(), DefaultConfig(), st)
	require.NoError(t, err)
	r.SetClock(fixedClock())
	return r, st
}

func TestCreateAndEncode(t *testing.T) {
	r := memoryRegistry(t)
	s, err := r.Create([]byte("alice"))
	require.NoError(t, err)

	ev, err := r.Encode(s.ID(), 1200, "response_time")
	require.NoError(t, err)
	assert.Equal(t, "response_time", ev.Dimension)

	dec, err := r.Decode(s.ID(), ev)
	require.NoError(t, err)
	assert.InDelta(t, 1200, dec.Value, 1e-6)

	assert.Equal(t, []string{s.ID()}, r.IDs())
}

func TestUnknownSubject(t *testing.T) {
	r := memoryRegistry(t)
	_, err := r.Encode("nope", 1, "click_rate")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Score("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	rs, _ := storeRegistry(t, filepath.Join(t.TempDir(), "s.db"))
	_, err = rs.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubjectsAreIndependent(t *testing.T) {
	r := memoryRegistry(t)
	a, err := r.Create([]byte("alice"))
	require.NoError(t, err)
	b, err := r.Create([]byte("bob"))
	require.NoError(t, err)
	require.NotEqual(t, a.Genesis().Offset, b.Genesis().Offset)

	for i := 0; i < 5; i++ {
		_, err := r.Encode(a.ID(), float64(i*100), "dwell_time")
		require.NoError(t, err)
	}
	assert.Len(t, a.Encoder().History(), 5)
	assert.Empty(t, b.Encoder().History())

	pa, err := r.Predict(a.ID())
	require.NoError(t, err)
	pb, err := r.Predict(b.ID())
	require.NoError(t, err)
	assert.NotNil(t, pa.Path)
	assert.Nil(t, pb.Path)
}

func TestScoreGatesThenGrants(t *testing.T) {
	r := memoryRegistry(t)
	s, err := r.Create([]byte("carol"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := r.RecordAction(s.ID(), gate.Action{Score: 0.85})
		require.NoError(t, err)
	}
	res, err := r.Score(s.ID())
	require.NoError(t, err)
	assert.True(t, res.Gated)
	assert.Equal(t, 11, res.Remaining)

	for i := 0; i < 40; i++ {
		_, err := r.RecordAction(s.ID(), gate.Action{Score: 0.85})
		require.NoError(t, err)
	}
	res, err = r.Score(s.ID())
	require.NoError(t, err)
	assert.False(t, res.Gated)
	assert.GreaterOrEqual(t, res.Tier, gate.Full)

	for _, a := range s.Actions() {
		assert.NotZero(t, a.Timestamp)
	}
}

func TestMaxActions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActions = 30
	r, err := NewRegistry(digits.Pi(), cfg, nil)
	require.NoError(t, err)
	s, err := r.Create([]byte("dave"))
	require.NoError(t, err)

	var n int
	for i := 0; i < 45; i++ {
		n, err = r.RecordAction(s.ID(), gate.Action{Score: float64(i) / 45})
		require.NoError(t, err)
	}
	assert.Equal(t, 30, n)
	assert.InDelta(t, 15.0/45, s.Actions()[0].Score, 1e-12)
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjects.db")
	r1, _ := storeRegistry(t, path)

	s, err := r1.Create([]byte("erin"))
	require.NoError(t, err)
	for i, v := range []float64{4000, 3000, 2500, 1000} {
		_, err := r1.Encode(s.ID(), v, "response_time")
		require.NoError(t, err)
		_, err = r1.RecordAction(s.ID(), gate.Action{Score: 0.2 * float64(i+1)})
		require.NoError(t, err)
	}
	v, err := r1.Snapshot(s.ID())
	require.NoError(t, err)
	require.NotEmpty(t, v.VersionID)

	r2, _ := storeRegistry(t, path)
	loaded, err := r2.Get(s.ID())
	require.NoError(t, err)

	assert.Equal(t, s.Genesis(), loaded.Genesis())
	assert.Equal(t, v.VersionID, loaded.VersionID())
	assert.Equal(t, s.Encoder().Centroid(), loaded.Encoder().Centroid())
	assert.Equal(t, s.Actions(), loaded.Actions())

	p1, err := r1.Predict(s.ID())
	require.NoError(t, err)
	p2, err := r2.Predict(s.ID())
	require.NoError(t, err)
	assert.Equal(t, p1.DataPoints, p2.DataPoints)
}

func TestLoadRejectsTamperedGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tamper.db")
	r1, st := storeRegistry(t, path)
	s, err := r1.Create([]byte("frank"))
	require.NoError(t, err)

	_, err = st.DB().Exec(`UPDATE genesis_records SET vertex_y = vertex_y + 0.5 WHERE id = ?`, s.ID())
	require.NoError(t, err)

	r2, err := NewRegistry(digits.Pi(), DefaultConfig(), st)
	require.NoError(t, err)
	_, err = r2.Load(s.ID())
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrTampered)

	var te *identity.TamperError
	require.True(t, errors.As(err, &te))
	require.Len(t, te.Mismatches, 1)
	assert.Equal(t, "vertexY", te.Mismatches[0].Field)

	res, err := r1.Verify(s.ID())
	require.NoError(t, err)
	assert.False(t, res.Valid)

	entries, err := logging.ListDecisions(st.DB(), s.ID(), logging.TriggerVerify, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, logging.DecisionFail, entries[0].Decision)
}

func TestLockOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.db")
	r, st := storeRegistry(t, path)
	s, err := r.Create([]byte("grace"))
	require.NoError(t, err)
	_, err = r.Encode(s.ID(), 0.4, "scroll_depth")
	require.NoError(t, err)

	locked, err := r.Lock(s.ID())
	require.NoError(t, err)
	assert.True(t, locked.Locked)
	assert.NotEmpty(t, locked.RootSignature)

	_, err = r.Lock(s.ID())
	assert.ErrorIs(t, err, identity.ErrAlreadyLocked)

	stored, err := st.LoadGenesis(s.ID())
	require.NoError(t, err)
	assert.Equal(t, locked, stored)

	res, err := r.Verify(s.ID())
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)

	cur, err := st.CurrentSnapshot(s.ID())
	require.NoError(t, err)
	assert.Equal(t, locked.SnapshotHash, cur.Hash)
}

func TestLockInMemory(t *testing.T) {
	r := memoryRegistry(t)
	s, err := r.Create([]byte("heidi"))
	require.NoError(t, err)

	locked, err := r.Lock(s.ID())
	require.NoError(t, err)
	assert.True(t, s.Genesis().Locked)

	res, err := r.Verify(s.ID())
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, locked.RootSignature, s.Genesis().RootSignature)
}

func TestConcurrentLockCommitsOneSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "race.db")
	r, st := storeRegistry(t, path)
	s, err := r.Create([]byte("ivan"))
	require.NoError(t, err)
	_, err = r.Encode(s.ID(), 12, "click_rate")
	require.NoError(t, err)

	before, err := st.ListSnapshots(s.ID(), 100)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, already int
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Lock(s.ID())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, identity.ErrAlreadyLocked):
				already++
			default:
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)

	after, err := st.ListSnapshots(s.ID(), 100)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)

	cur, err := st.CurrentSnapshot(s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.Genesis().SnapshotHash, cur.Hash)
}

func TestRollback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollback.db")
	r, _ := storeRegistry(t, path)
	s, err := r.Create([]byte("ivan"))
	require.NoError(t, err)

	_, err = r.Encode(s.ID(), 3, "click_rate")
	require.NoError(t, err)
	v1, err := r.Snapshot(s.ID())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = r.Encode(s.ID(), float64(i), "click_rate")
		require.NoError(t, err)
	}
	_, err = r.Snapshot(s.ID())
	require.NoError(t, err)
	assert.Equal(t, 5, s.Encoder().DataPoints())

	require.NoError(t, r.Rollback(s.ID(), v1.VersionID))
	assert.Equal(t, 1, s.Encoder().DataPoints())
	assert.Equal(t, v1.VersionID, s.VersionID())

	mem := memoryRegistry(t)
	ms, err := mem.Create([]byte("ivan"))
	require.NoError(t, err)
	assert.Error(t, mem.Rollback(ms.ID(), "anything"))
}

func TestOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "own.db")
	r, st := storeRegistry(t, path)
	s, err := r.Create([]byte("judy"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := r.Encode(s.ID(), float64(i), "error_rate")
		require.NoError(t, err)
	}

	p, err := r.ProveOwnership(s.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Data.HistoryLength)
	require.NoError(t, r.VerifyOwnership(s.ID(), p))

	p.Data.HistoryLength++
	assert.ErrorIs(t, r.VerifyOwnership(s.ID(), p), identity.ErrOwnershipMismatch)

	entries, err := logging.ListDecisions(st.DB(), s.ID(), logging.TriggerOwnership, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, logging.DecisionFail, entries[0].Decision)
	assert.Equal(t, logging.DecisionPass, entries[1].Decision)
}

func TestSealGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seal.db")
	r, st := storeRegistry(t, path)
	s, err := r.Create([]byte("lena"))
	require.NoError(t, err)
	_, err = r.Lock(s.ID())
	require.NoError(t, err)

	key := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	seal, err := r.SealGenesis(s.ID(), key)
	require.NoError(t, err)
	require.NoError(t, r.VerifyGenesisSeal(s.ID(), seal))

	other, err := r.Create([]byte("mona"))
	require.NoError(t, err)
	assert.ErrorIs(t, r.VerifyGenesisSeal(other.ID(), seal), identity.ErrBadSeal)

	_, err = r.SealGenesis("missing", key)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := logging.ListDecisions(st.DB(), s.ID(), logging.TriggerSeal, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, logging.DecisionPass, entries[0].Decision)
}

func TestScoreIsAudited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	r, st := storeRegistry(t, path)
	s, err := r.Create([]byte("kim"))
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := r.RecordAction(s.ID(), gate.Action{Score: 0.3 + 0.02*float64(i)})
		require.NoError(t, err)
	}
	res, err := r.Score(s.ID())
	require.NoError(t, err)

	entries, err := logging.ListDecisions(st.DB(), s.ID(), logging.TriggerScore, 10)
	require.NoError(t, err)
	recs, err := logging.TierRecords(entries)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.Tier, recs[0].Tier)
	assert.Len(t, recs[0].Actions, 25)
	assert.Equal(t, res, r.Gate().Evaluate(recs[0].Actions))
}

func TestConcurrentSubjects(t *testing.T) {
	r := memoryRegistry(t)
	const subjects = 8
	const perSubject = 50

	ids := make([]string, subjects)
	for i := range ids {
		s, err := r.Create([]byte(fmt.Sprintf("subject-%d", i)))
		require.NoError(t, err)
		ids[i] = s.ID()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for j := 0; j < perSubject; j++ {
					if _, err := r.Encode(id, float64(j), "interaction_count"); err != nil {
						t.Error(err)
						return
					}
					if _, err := r.RecordAction(id, gate.Action{Score: 0.5}); err != nil {
						t.Error(err)
						return
					}
				}
				if _, err := r.Score(id); err != nil {
					t.Error(err)
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range ids {
		s, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 2*perSubject, s.Encoder().DataPoints())
		assert.Len(t, s.Actions(), 2*perSubject)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gate.Thresholds[2] = 0.1
	_, err := NewRegistry(digits.Pi(), cfg, nil)
	assert.Error(t, err)
}
