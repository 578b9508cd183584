package job

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgres connects to TEST_DATABASE_URL or skips.
func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	repo, err := NewPostgresRepository(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = repo.db.Exec(context.Background(), "DELETE FROM jobs WHERE id LIKE 'pgtest-%'")
		repo.Close()
	})
	return repo
}

func TestPostgresRepository_SaveAndFind(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()

	job := NewWithID("pgtest-1", KindSlideshow)
	job.FPS = 10
	require.NoError(t, repo.Save(ctx, job))

	require.NoError(t, job.Start())
	job.SetStage(StageUploading)
	job.SetOutput("slideshows/pgtest-1.mp4", "https://bucket.s3.amazonaws.com/slideshows/pgtest-1.mp4")
	require.NoError(t, repo.Save(ctx, job))

	found, err := repo.FindByID(ctx, "pgtest-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, found.Status)
	assert.Equal(t, StageUploading, found.Stage)
	assert.Equal(t, "slideshows/pgtest-1.mp4", found.OutputKey)
	assert.InDelta(t, 10.0, found.FPS, 1e-9)
}

func TestPostgresRepository_ListAndDelete(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, NewWithID("pgtest-a", KindStory)))
	require.NoError(t, repo.Save(ctx, NewWithID("pgtest-b", KindStory)))

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Subset(t, ids, []string{"pgtest-a", "pgtest-b"})

	require.NoError(t, repo.Delete(ctx, "pgtest-a"))
	_, err = repo.FindByID(ctx, "pgtest-a")
	assert.True(t, errors.Is(err, ErrJobNotFound))

	assert.ErrorIs(t, repo.Delete(ctx, "pgtest-a"), ErrJobNotFound)
}
