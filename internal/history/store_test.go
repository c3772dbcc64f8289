package history

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/dockpipe/internal/docking"
	"github.com/harrison/dockpipe/internal/models"
)

var _ docking.Recorder = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func success(target, smiles string, best float64, at time.Time) *Run {
	return &Run{
		Target:    target,
		Smiles:    smiles,
		Canonical: smiles,
		Seed:      models.DefaultSeed,
		Status:    StatusSuccess,
		Best:      &best,
		Scores:    []float64{best, best + 0.4},
		Digest:    "abc123",
		Duration:  3 * time.Second,
		StartedAt: at,
	}
}

func failure(target, smiles string, kind models.ErrorKind, at time.Time) *Run {
	return &Run{
		Target:       target,
		Smiles:       smiles,
		Seed:         models.DefaultSeed,
		Status:       StatusFailed,
		ErrorKind:    kind.String(),
		ErrorMessage: "boom",
		StartedAt:    at,
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		dbPath  string
		wantErr bool
	}{
		{"creates database successfully", filepath.Join(t.TempDir(), "test.db"), false},
		{"handles in-memory database", ":memory:", false},
		{"creates parent directories if needed", filepath.Join(t.TempDir(), "nested", "dir", "test.db"), false},
		{"returns error for unwritable path", "/proc/dockpipe/history.db", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(tt.dbPath)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer store.Close()

			version, err := store.GetLatestVersion()
			require.NoError(t, err)
			assert.Equal(t, len(migrations), version)
			assert.Equal(t, tt.dbPath, store.Path())
		})
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewStore(path)
	require.NoError(t, err)
	defer second.Close()

	versions, err := second.GetAppliedVersions()
	require.NoError(t, err)
	require.Len(t, versions, len(migrations))
	assert.Equal(t, 1, versions[0].Version)
}

func TestConcurrentOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store, err := NewStore(path)
			if err != nil {
				errs <- err
				return
			}
			store.Close()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestRecordAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := success("ABL1", "CCO", -4.2, at)
	run.Formula = "C2H6O"
	require.NoError(t, store.Record(ctx, run))
	require.NotEmpty(t, run.ID, "Record must assign an id")

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "ABL1", got.Target)
	assert.True(t, got.Succeeded())
	require.NotNil(t, got.Best)
	assert.Equal(t, -4.2, *got.Best)
	assert.Equal(t, run.Scores, got.Scores)
	assert.Equal(t, "C2H6O", got.Formula)
	assert.Equal(t, 3*time.Second, got.Duration)
	assert.True(t, at.Equal(got.StartedAt))

	byPrefix, err := store.Get(ctx, run.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, run.ID, byPrefix.ID)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAmbiguousPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"aaaa-1", "aaaa-2"} {
		run := success("ABL1", "CCO", -4, time.Now())
		run.ID = id
		require.NoError(t, store.Record(ctx, run))
	}

	_, err := store.Get(ctx, "aaaa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestGetPrefixIsLiteral(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"run_a1", "runxa2"} {
		run := success("ABL1", "CCO", -4, time.Now())
		run.ID = id
		require.NoError(t, store.Record(ctx, run))
	}

	got, err := store.Get(ctx, "run_")
	require.NoError(t, err)
	assert.Equal(t, "run_a1", got.ID)

	_, err = store.Get(ctx, "run%")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordRejectsUnknownStatus(t *testing.T) {
	store := newTestStore(t)
	err := store.Record(context.Background(), &Run{Target: "ABL1", Smiles: "C", Status: "maybe"})
	assert.Error(t, err)
}

func TestRecordDock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	req := models.DockRequest{ID: "run-ok", Target: "ABL1", Smiles: "OCC", Canonical: "CCO", Seed: 1}

	res := &models.DockResult{
		RunID:   "run-ok",
		Request: req,
		Best:    -5.1,
		Poses:   models.PosesFromScores([]float64{-5.1, -4.9}),
		Formula: "C2H6O",
	}
	require.NoError(t, store.RecordDock(ctx, req, res, nil))

	failReq := models.DockRequest{ID: "run-bad", Target: "ABL1", Smiles: "C1CC", Seed: 1}
	require.NoError(t, store.RecordDock(ctx, failReq, nil, models.Errorf(models.KindInvalidSmiles, "unclosed ring")))

	ok, err := store.Get(ctx, "run-ok")
	require.NoError(t, err)
	assert.Equal(t, "CCO", ok.Canonical)
	assert.Equal(t, []float64{-5.1, -4.9}, ok.Scores)
	assert.False(t, ok.UnseededEmbedding)

	res.RunID, req.ID = "run-unseeded", "run-unseeded"
	res.UnseededEmbedding = true
	require.NoError(t, store.RecordDock(ctx, req, res, nil))
	unseeded, err := store.Get(ctx, "run-unseeded")
	require.NoError(t, err)
	assert.True(t, unseeded.UnseededEmbedding)

	bad, err := store.Get(ctx, "run-bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, bad.Status)
	assert.Equal(t, "invalid_smiles", bad.ErrorKind)
	assert.Nil(t, bad.Best)
	assert.Contains(t, bad.ErrorMessage, "unclosed ring")
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, success("ABL1", "CCO", -4, base)))
	require.NoError(t, store.Record(ctx, failure("ABL1", "C1", models.KindInvalidSmiles, base.Add(time.Hour))))
	require.NoError(t, store.Record(ctx, success("DRD2", "CCN", -6, base.Add(2*time.Hour))))

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "DRD2", all[0].Target, "most recent first")

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by target", Filter{Target: "ABL1"}, 2},
		{"by status", Filter{Status: StatusFailed}, 1},
		{"since", Filter{Since: base.Add(90 * time.Minute)}, 1},
		{"limit", Filter{Limit: 2}, 2},
		{"combined", Filter{Target: "ABL1", Status: StatusSuccess}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, runs, tt.want)
		})
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Record(ctx, success("ABL1", "CCO", -4, now)))
	require.NoError(t, store.Record(ctx, success("ABL1", "CCO", -6, now)))
	require.NoError(t, store.Record(ctx, success("ABL1", "CCN", -5, now)))
	require.NoError(t, store.Record(ctx, failure("ABL1", "X", models.KindInvalidSmiles, now)))
	require.NoError(t, store.Record(ctx, failure("DRD2", "CCO", models.KindEngineExecution, now)))

	stats, err := store.Stats(ctx, "")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	abl := stats[0]
	assert.Equal(t, "ABL1", abl.Target)
	assert.Equal(t, 4, abl.Runs)
	assert.Equal(t, 3, abl.Succeeded)
	assert.Equal(t, 1, abl.Failed)
	assert.Equal(t, 2, abl.Ligands)
	require.NotNil(t, abl.BestScore)
	assert.Equal(t, -6.0, *abl.BestScore)
	require.NotNil(t, abl.MeanBest)
	assert.InDelta(t, -5.0, *abl.MeanBest, 1e-9)
	assert.InDelta(t, 0.75, abl.SuccessRate(), 1e-9)

	drd := stats[1]
	assert.Nil(t, drd.BestScore)
	assert.Equal(t, 0.0, drd.SuccessRate())

	only, err := store.Stats(ctx, "DRD2")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "DRD2", only[0].Target)
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Record(ctx, success("ABL1", "CCO", -4, now.AddDate(0, 0, -40))))
	require.NoError(t, store.Record(ctx, success("ABL1", "CCN", -4, now.AddDate(0, 0, -10))))
	require.NoError(t, store.Record(ctx, success("ABL1", "CCC", -4, now)))

	kept, err := store.PruneDays(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, kept)

	deleted, err := store.PruneDays(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = store.Prune(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	runs, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecordCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Record(ctx, success("ABL1", "CCO", -4, time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
