package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var flat2 = IndexOptions{Dims: 2, Distance: DistanceL2, Kind: KindFlat}

type mockStore struct{ mock.Mock }

func (m *mockStore) LoadIndexes(ctx context.Context) ([]StoredIndex, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]StoredIndex)
	return out, args.Error(1)
}

func (m *mockStore) CreateIndex(ctx context.Context, id IndexID, opts IndexOptions) error {
	return m.Called(ctx, id, opts).Error(0)
}

func (m *mockStore) DropIndex(ctx context.Context, id IndexID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) AppendRecords(ctx context.Context, id IndexID, records []Record) error {
	return m.Called(ctx, id, records).Error(0)
}

func (m *mockStore) DeleteRecords(ctx context.Context, id IndexID, nos []uint64) error {
	return m.Called(ctx, id, nos).Error(0)
}

func seeded(t *testing.T, points ...[]float32) *Local {
	t.Helper()
	w := NewLocal()
	require.NoError(t, w.Create(1, flat2))
	for i, p := range points {
		require.NoError(t, w.Insert(1, Insert{Vector: p, Payload: Payload(i + 1)}))
	}
	return w
}

func TestCreateRejectsDuplicateAndBadOptions(t *testing.T) {
	w := NewLocal()
	require.NoError(t, w.Create(7, flat2))

	err := w.Create(7, flat2)
	assert.ErrorIs(t, err, ErrExist)
	assert.Equal(t, CodeExist, CodeOf(err))

	err = w.Create(8, IndexOptions{Dims: 0, Distance: DistanceL2, Kind: KindFlat})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	err = w.Create(8, IndexOptions{Dims: 4, Distance: "manhattan", Kind: KindFlat})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, 1, w.Len())
}

func TestInsertValidatesVector(t *testing.T) {
	w := seeded(t)
	assert.ErrorIs(t, w.Insert(1, Insert{Vector: []float32{1, 2, 3}}), ErrInvalidVector)
	assert.ErrorIs(t, w.Insert(2, Insert{Vector: []float32{1, 2}}), ErrNotExist)
}

func TestSearchReturnsNearestFirstIncludingBuffered(t *testing.T) {
	w := seeded(t, []float32{0, 0}, []float32{5, 5}, []float32{1, 0})

	res, err := w.Search(1, Search{Vector: []float32{0, 0}, K: 2}, AcceptAll)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, Payload(1), res[0].Payload)
	assert.Equal(t, float32(0), res[0].Distance)
	assert.Equal(t, Payload(3), res[1].Payload)
}

func TestSearchFilterVisitsUntilKAccepted(t *testing.T) {
	w := seeded(t, []float32{0, 0}, []float32{1, 0}, []float32{2, 0}, []float32{3, 0})

	var seen []Payload
	res, err := w.Search(1, Search{Vector: []float32{0, 0}, K: 1}, func(p Payload) (bool, error) {
		seen = append(seen, p)
		return p == 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Payload{1, 2}, seen)
	require.Len(t, res, 1)
	assert.Equal(t, Payload(2), res[0].Payload)
}

func TestSearchZeroKVisitsNothing(t *testing.T) {
	w := seeded(t, []float32{0, 0})
	res, err := w.Search(1, Search{Vector: []float32{0, 0}, K: 0}, func(Payload) (bool, error) {
		t.Fatalf("filter must not be consulted")
		return false, nil
	})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestDeleteConsultsEveryRecord(t *testing.T) {
	w := seeded(t, []float32{0, 0}, []float32{1, 1}, []float32{2, 2})

	var seen []Payload
	n, err := w.Delete(1, func(p Payload) (bool, error) {
		seen = append(seen, p)
		return p != 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, []Payload{1, 2, 3}, seen)

	st, err := w.Stat(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Records)
}

func TestDeleteDeciderErrorLeavesIndexUntouched(t *testing.T) {
	w := seeded(t, []float32{0, 0}, []float32{1, 1})
	boom := errors.New("peer gone")

	calls := 0
	_, err := w.Delete(1, func(Payload) (bool, error) {
		calls++
		if calls == 2 {
			return false, boom
		}
		return true, nil
	})
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, boom)

	st, err := w.Stat(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Records)
}

func TestDeleteOnEmptyIndexNeverConsults(t *testing.T) {
	w := seeded(t)
	n, err := w.Delete(1, func(Payload) (bool, error) {
		t.Fatalf("decider must not be consulted")
		return false, nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatTracksBufferedAndFlushed(t *testing.T) {
	w := seeded(t, []float32{0, 0}, []float32{1, 1})

	st, err := w.Stat(1)
	require.NoError(t, err)
	assert.Equal(t, Stat{Options: flat2, Records: 2, Buffered: 2, Flushed: 0}, st)

	require.NoError(t, w.Flush(1))
	st, err = w.Stat(1)
	require.NoError(t, err)
	assert.Equal(t, Stat{Options: flat2, Records: 2, Buffered: 0, Flushed: 2}, st)
}

func TestDestroyIgnoresMissingIDs(t *testing.T) {
	w := seeded(t)
	require.NoError(t, w.Create(2, flat2))
	w.Destroy([]IndexID{1, 99, 2})
	assert.Equal(t, 0, w.Len())

	_, err := w.Stat(1)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestVbaseIteratesInDistanceOrderThenStops(t *testing.T) {
	w := seeded(t, []float32{3, 0}, []float32{1, 0}, []float32{2, 0})
	inst, err := w.Instance(1)
	require.NoError(t, err)

	it, err := inst.View().Vbase([]float32{0, 0})
	require.NoError(t, err)

	var got []Payload
	for {
		n, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, n.Payload)
	}
	assert.Equal(t, []Payload{2, 3, 1}, got)

	_, ok := it.Next()
	assert.False(t, ok)
}

func TestVbaseViewIsSnapshot(t *testing.T) {
	w := seeded(t, []float32{0, 0})
	inst, err := w.Instance(1)
	require.NoError(t, err)
	view := inst.View()

	require.NoError(t, w.Insert(1, Insert{Vector: []float32{0, 1}, Payload: 9}))

	it, err := view.Vbase([]float32{0, 0})
	require.NoError(t, err)
	_, ok := it.Next()
	assert.True(t, ok)
	_, ok = it.Next()
	assert.False(t, ok)
}

func TestVbaseRejectsWrongDims(t *testing.T) {
	w := seeded(t)
	inst, err := w.Instance(1)
	require.NoError(t, err)
	_, err = inst.View().Vbase([]float32{1})
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestDistanceMetrics(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.Equal(t, float32(2), l2Distance(a, b))
	assert.InDelta(t, 1.0, cosineDistance(a, b), 1e-6)
	assert.Equal(t, float32(1), cosineDistance(a, []float32{0, 0}))
	assert.Equal(t, float32(-1), dotDistance(a, a))
}

func TestOpenRestoresFromStore(t *testing.T) {
	st := &mockStore{}
	st.On("LoadIndexes", mock.Anything).Return([]StoredIndex{{
		ID:      4,
		Options: flat2,
		Records: []Record{{No: 10, Vector: []float32{1, 1}, Payload: 77}},
	}}, nil)

	w, err := Open(context.Background(), st)
	require.NoError(t, err)
	stat, err := w.Stat(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stat.Flushed)

	require.NoError(t, w.Insert(4, Insert{Vector: []float32{0, 0}, Payload: 78}))
	x, _ := w.lookup(4)
	_, pending := x.pending[11]
	assert.True(t, pending, "record numbers continue after restored ones")
	st.AssertExpectations(t)
}

func TestFlushAndDeleteReachStore(t *testing.T) {
	st := &mockStore{}
	st.On("LoadIndexes", mock.Anything).Return(nil, nil)
	st.On("CreateIndex", mock.Anything, IndexID(1), flat2).Return(nil)
	st.On("AppendRecords", mock.Anything, IndexID(1), mock.MatchedBy(func(r []Record) bool { return len(r) == 1 })).Return(nil)
	st.On("DeleteRecords", mock.Anything, IndexID(1), []uint64{1}).Return(nil)
	st.On("DropIndex", mock.Anything, IndexID(1)).Return(errors.New("disk gone"))

	w, err := Open(context.Background(), st)
	require.NoError(t, err)
	require.NoError(t, w.Create(1, flat2))
	require.NoError(t, w.Insert(1, Insert{Vector: []float32{0, 0}, Payload: 5}))
	require.NoError(t, w.Flush(1))

	n, err := w.Delete(1, AcceptAll)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	w.Destroy([]IndexID{1})
	assert.Equal(t, 0, w.Len())
	st.AssertExpectations(t)
}

func TestCreateWaitsForDestroyToDropStoredRow(t *testing.T) {
	dropping := make(chan struct{})
	release := make(chan struct{})
	st := &mockStore{}
	st.On("LoadIndexes", mock.Anything).Return(nil, nil)
	st.On("CreateIndex", mock.Anything, IndexID(1), flat2).Return(nil)
	st.On("DropIndex", mock.Anything, IndexID(1)).Run(func(mock.Arguments) {
		close(dropping)
		<-release
	}).Return(nil).Once()

	w, err := Open(context.Background(), st)
	require.NoError(t, err)
	require.NoError(t, w.Create(1, flat2))

	destroyed := make(chan struct{})
	go func() {
		w.Destroy([]IndexID{1})
		close(destroyed)
	}()
	<-dropping

	created := make(chan error, 1)
	go func() { created <- w.Create(1, flat2) }()
	select {
	case err := <-created:
		t.Fatalf("create finished while the stored row was still present: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-destroyed
	require.NoError(t, <-created)
	stat, err := w.Stat(1)
	require.NoError(t, err)
	assert.Zero(t, stat.Flushed+stat.Buffered)
	st.AssertNumberOfCalls(t, "CreateIndex", 2)
}

func TestFlushStoreFailureKeepsBuffer(t *testing.T) {
	st := &mockStore{}
	st.On("LoadIndexes", mock.Anything).Return(nil, nil)
	st.On("CreateIndex", mock.Anything, IndexID(1), flat2).Return(nil)
	st.On("AppendRecords", mock.Anything, IndexID(1), mock.Anything).Return(errors.New("readonly"))

	w, err := Open(context.Background(), st)
	require.NoError(t, err)
	require.NoError(t, w.Create(1, flat2))
	require.NoError(t, w.Insert(1, Insert{Vector: []float32{0, 0}, Payload: 5}))

	err = w.Flush(1)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, CodeStorage, CodeOf(err))

	stat, err := w.Stat(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stat.Buffered)
}

func TestCodeRoundTrip(t *testing.T) {
	for _, s := range sentinels {
		assert.Equal(t, s.code, CodeOf(s.err))
		assert.Same(t, s.err, Sentinel(s.code))
	}
	assert.Equal(t, CodeInternal, CodeOf(errors.New("other")))
	assert.Same(t, ErrInternal, Sentinel(99))
}
