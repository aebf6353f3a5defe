package city

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/worldwise-cities/internal/firebase"
	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

// MockDocumentStore is a mock implementation of DocumentStore
type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) FetchAll(ctx context.Context) (firebase.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(firebase.Snapshot), args.Error(1)
}

func (m *MockDocumentStore) CreateAt(ctx context.Context, snap firebase.Snapshot, city types.City) (string, error) {
	args := m.Called(ctx, snap, city)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentStore) DeleteEntry(ctx context.Context, entry firebase.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func remoteSnapshot() firebase.Snapshot {
	return firebase.Snapshot{Entries: []firebase.Entry{
		{Key: "0", City: types.City{ID: 1, Attributes: map[string]any{"cityName": "Lisbon"}}},
		{Key: "1", City: types.City{ID: 2, Attributes: map[string]any{"cityName": "Madrid"}}},
	}}
}

func TestRemoteRepository_ListAndGet(t *testing.T) {
	ctx := context.Background()
	store := new(MockDocumentStore)
	repo := NewRemoteRepository(store, discardLogger())

	store.On("FetchAll", ctx).Return(remoteSnapshot(), nil)

	cities, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "1", cities[1].Index)

	c, err := repo.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Madrid", c.Name())
	assert.Equal(t, "1", c.Index)

	_, err = repo.GetByID(ctx, 3)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestRemoteRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("stores at the key the client picks", func(t *testing.T) {
		store := new(MockDocumentStore)
		repo := NewRemoteRepository(store, discardLogger()).WithClock(fixedClock(2))
		snap := remoteSnapshot()

		store.On("FetchAll", ctx).Return(snap, nil).Once()
		// generated id 2 is taken, so it moves to 3
		store.On("CreateAt", ctx, snap, types.City{ID: 3}).Return("2", nil).Once()

		c, err := repo.Create(ctx, types.City{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), c.ID)
		assert.Equal(t, "2", c.Index)
		store.AssertExpectations(t)
	})

	t.Run("duplicate supplied id", func(t *testing.T) {
		store := new(MockDocumentStore)
		repo := NewRemoteRepository(store, discardLogger())
		store.On("FetchAll", ctx).Return(remoteSnapshot(), nil).Once()

		_, err := repo.Create(ctx, types.City{ID: 1})
		assert.True(t, errors.Is(err, types.ErrConflict))
		store.AssertNotCalled(t, "CreateAt", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("fetch failure", func(t *testing.T) {
		store := new(MockDocumentStore)
		repo := NewRemoteRepository(store, discardLogger())
		store.On("FetchAll", ctx).Return(firebase.Snapshot{}, errors.New("offline")).Once()

		_, err := repo.Create(ctx, types.City{ID: 5})
		require.Error(t, err)
	})
}

func TestRemoteRepository_DeleteByID(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the matching entry", func(t *testing.T) {
		store := new(MockDocumentStore)
		repo := NewRemoteRepository(store, discardLogger())
		snap := remoteSnapshot()

		store.On("FetchAll", ctx).Return(snap, nil).Once()
		store.On("DeleteEntry", ctx, snap.Entries[1]).Return(nil).Once()

		require.NoError(t, repo.DeleteByID(ctx, 2))
		store.AssertExpectations(t)
	})

	t.Run("missing id is a no-op", func(t *testing.T) {
		store := new(MockDocumentStore)
		repo := NewRemoteRepository(store, discardLogger())
		store.On("FetchAll", ctx).Return(remoteSnapshot(), nil).Once()

		require.NoError(t, repo.DeleteByID(ctx, 99))
		store.AssertNotCalled(t, "DeleteEntry", mock.Anything, mock.Anything)
	})

	t.Run("slot changed concurrently is tolerated", func(t *testing.T) {
		store := new(MockDocumentStore)
		repo := NewRemoteRepository(store, discardLogger())
		snap := remoteSnapshot()

		store.On("FetchAll", ctx).Return(snap, nil).Once()
		store.On("DeleteEntry", ctx, snap.Entries[0]).Return(types.ErrPreconditionFailed).Once()

		require.NoError(t, repo.DeleteByID(ctx, 1))
	})
}
