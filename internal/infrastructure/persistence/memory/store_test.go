package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-canon-api/internal/domain/entity"
	apperrors "z-novel-canon-api/pkg/errors"
)

func newSeries(t *testing.T, s *Store) *entity.Series {
	t.Helper()
	series := entity.NewSeries("The Ashen Crown", "fantasy", 5, entity.SeriesConfig{})
	require.NoError(t, s.Repositories().Series.Create(context.Background(), series))
	return series
}

func TestNotFoundReturnsNil(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	series, err := repos.Series.GetByID(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, series)

	c, err := repos.Characters.GetByID(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, c)

	evt, err := repos.Events.GetByID(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, evt)

	head, err := repos.Events.Head(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, head)
}

func TestSeriesLockRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()
	series := newSeries(t, s)

	boom := errors.New("boom")
	err := s.WithSeriesLock(ctx, series.ID, func(ctx context.Context) error {
		kael := entity.NewCharacter(series.ID, "Kael", entity.RoleProtagonist, entity.NewLocator(1, 1))
		require.NoError(t, repos.Characters.Create(ctx, kael))
		_, err := repos.Series.IncrementVersion(ctx, series.ID)
		require.NoError(t, err)

		// 事务内可见
		list, err := repos.Characters.ListBySeries(ctx, series.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := repos.Characters.ListBySeries(ctx, series.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	got, err := repos.Series.GetByID(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()
	series := newSeries(t, s)

	err := s.WithSnapshot(ctx, series.ID, func(snapCtx context.Context) error {
		// 快照开始后的提交对快照不可见
		_, err := repos.Series.IncrementVersion(context.Background(), series.ID)
		require.NoError(t, err)

		inSnap, err := repos.Series.GetByID(snapCtx, series.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), inSnap.Version)

		_, err = repos.Series.IncrementVersion(snapCtx, series.ID)
		assert.Error(t, err, "snapshots are read-only")
		return nil
	})
	require.NoError(t, err)

	got, err := repos.Series.GetByID(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestEventsStayOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()
	series := newSeries(t, s)

	for _, loc := range []entity.Locator{
		{Book: 2, Chapter: 1, Sequence: 1},
		{Book: 1, Chapter: 3, Sequence: 2},
		{Book: 1, Chapter: 3, Sequence: 1},
	} {
		evt := entity.NewCanonEvent(series.ID, entity.SubjectTimeline, "war", entity.EventTimeline, loc, entity.AttributeMap{"at": loc.String()})
		require.NoError(t, repos.Events.Append(ctx, evt))
	}

	events, err := repos.Events.ListBySeries(ctx, series.ID, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i-1].Locator.Before(events[i].Locator))
	}

	upTo := entity.EndOfBook(1)
	book1, err := repos.Events.ListBySeries(ctx, series.ID, &upTo)
	require.NoError(t, err)
	assert.Len(t, book1, 2)

	last, err := repos.Events.LastSequence(ctx, series.ID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)

	head, err := repos.Events.Head(ctx, series.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, head.Book)

	dup := entity.NewCanonEvent(series.ID, entity.SubjectTimeline, "war", entity.EventTimeline,
		entity.Locator{Book: 1, Chapter: 3, Sequence: 1}, entity.AttributeMap{"at": "again"})
	assert.ErrorIs(t, repos.Events.Append(ctx, dup), apperrors.ErrSequenceConflict)
}

func TestReturnedObjectsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repos := s.Repositories()
	series := newSeries(t, s)

	kael := entity.NewCharacter(series.ID, "Kael", entity.RoleProtagonist, entity.NewLocator(1, 1))
	require.NoError(t, repos.Characters.Create(ctx, kael))

	got, err := repos.Characters.GetByID(ctx, kael.ID)
	require.NoError(t, err)
	got.Name = "changed"
	got.LockKeys("hometown")

	again, err := repos.Characters.GetByID(ctx, kael.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kael", again.Name)
	assert.Empty(t, again.LockedAttributeKeys)
}

func TestCreateRequiresSeries(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	kael := entity.NewCharacter("missing", "Kael", entity.RoleProtagonist, entity.NewLocator(1, 1))
	assert.ErrorIs(t, repos.Characters.Create(ctx, kael), apperrors.ErrSeriesNotFound)
}
