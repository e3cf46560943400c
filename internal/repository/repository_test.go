package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/septivank/linky-feed-ingester/internal/db"
	"github.com/septivank/linky-feed-ingester/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestRepository connects to TEST_DATABASE_URL, migrates and empties it
func newTestRepository(t *testing.T) *repository.Repository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, zap.NewNop(), url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, zap.NewNop(), pool))

	repo := repository.NewRepository(pool)
	require.NoError(t, repo.Reset(ctx))
	t.Cleanup(repo.Close)
	return repo
}

func sample(ts, day string, papp float64) db.ConsumptionSample {
	return db.ConsumptionSample{
		Timestamp:         ts,
		OriginalTimestamp: ts,
		Day:               day,
		Papp:              papp,
		Iinst:             5,
		Ptec:              "HC",
		Hchc:              100,
		Hchp:              200,
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	s := sample("2025-01-15T11:00:00.000Z", "2025-01-15", 1200)

	require.NoError(t, repo.Upsert(ctx, s))
	require.NoError(t, repo.Upsert(ctx, s))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	s.Papp = 1500
	require.NoError(t, repo.Upsert(ctx, s))

	samples, err := repo.ReadByDay(ctx, "2025-01-15")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 1500.0, samples[0].Papp)
}

func TestReadRangeAndPage(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, s := range []db.ConsumptionSample{
		sample("2025-01-14T23:59:00.000Z", "2025-01-14", 1),
		sample("2025-01-15T11:00:00.000Z", "2025-01-15", 2),
		sample("2025-01-16T11:00:00.000Z", "2025-01-16", 3),
		sample("2025-01-17T11:00:00.000Z", "2025-01-17", 4),
	} {
		require.NoError(t, repo.Upsert(ctx, s))
	}

	samples, err := repo.ReadRange(ctx, "2025-01-15", "2025-01-16")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "2025-01-15T11:00:00.000Z", samples[0].Timestamp)

	page, err := repo.ReadPage(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.TotalCount)
	require.Len(t, page.Samples, 2)
	assert.Equal(t, "2025-01-16T11:00:00.000Z", page.Samples[0].Timestamp)
}

func TestSettings(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, ok, err := repo.ReadSetting(ctx, "apiUrl")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.WriteSetting(ctx, "seuilPuissance", 6000))
	value, ok, err := repo.ReadSetting(ctx, "seuilPuissance")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `6000`, string(value))

	require.NoError(t, repo.Reset(ctx))
	_, ok, err = repo.ReadSetting(ctx, "seuilPuissance")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplaceSamples_KeepsSettings(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, sample("2025-01-14T11:00:00.000Z", "2025-01-14", 700)))
	require.NoError(t, repo.WriteSetting(ctx, "timezone", "UTC"))

	require.NoError(t, repo.ReplaceSamples(ctx, []db.ConsumptionSample{
		sample("2025-01-15T11:00:00.000Z", "2025-01-15", 1200),
		sample("2025-01-15T11:01:00.000Z", "2025-01-15", 1300),
	}))

	all, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, s := range all {
		assert.Equal(t, "2025-01-15", s.Day)
	}

	_, ok, err := repo.ReadSetting(ctx, "timezone")
	require.NoError(t, err)
	assert.True(t, ok)
}
