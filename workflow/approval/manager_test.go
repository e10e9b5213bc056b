package approval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test doubles (function callback pattern) ---

type testStore struct {
	saveFn   func(ctx context.Context, a *Approval) error
	updateFn func(ctx context.Context, a *Approval) error
}

func (s *testStore) Save(ctx context.Context, a *Approval) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, a)
	}
	return nil
}

func (s *testStore) Load(context.Context, string) (*Approval, error) { return nil, ErrNotFound }

func (s *testStore) List(context.Context, string, Status) ([]*Approval, error) { return nil, nil }

func (s *testStore) Update(ctx context.Context, a *Approval) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, a)
	}
	return nil
}

func waitPending(t *testing.T, m *Manager) *Approval {
	t.Helper()
	var got *Approval
	require.Eventually(t, func() bool {
		p := m.Pending("")
		if len(p) == 0 {
			return false
		}
		got = p[0]
		return true
	}, time.Second, time.Millisecond)
	return got
}

func TestManager_ResolveApproves(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	done := make(chan *Response, 1)
	go func() {
		resp, err := m.Wait(ctx, Options{WorkflowID: "wf", NodeID: "n1", Message: "ok?", Timeout: time.Second})
		assert.NoError(t, err)
		done <- resp
	}()

	pending := waitPending(t, m)
	assert.Equal(t, "ok?", pending.Message)
	require.NoError(t, m.Resolve(ctx, pending.ID, &Response{Approved: true, Comment: "lgtm"}))

	resp := <-done
	assert.True(t, resp.Approved)
	assert.Equal(t, "lgtm", resp.Comment)
	assert.Empty(t, m.Pending(""))

	stored, err := m.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.NotNil(t, stored.ResolvedAt)
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager(nil, nil)

	start := time.Now()
	resp, err := m.Wait(context.Background(), Options{ID: "a1", NodeID: "n1", Timeout: 10 * time.Millisecond})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	stored, err := m.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, stored.Status)

	assert.ErrorIs(t, m.Resolve(context.Background(), "a1", &Response{Approved: true}), ErrNotFound)
}

func TestManager_ContextCanceled(t *testing.T) {
	m := NewManager(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		waitPending(t, m)
		cancel()
	}()

	_, err := m.Wait(ctx, Options{ID: "c1", Timeout: time.Minute})
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := m.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, stored.Status)
}

func TestManager_HandlerNotified(t *testing.T) {
	m := NewManager(nil, nil)
	var calls atomic.Int32
	m.RegisterHandler(func(ctx context.Context, a *Approval) error {
		calls.Add(1)
		return m.Resolve(ctx, a.ID, &Response{Approved: false, Comment: "no"})
	})

	resp, err := m.Wait(context.Background(), Options{Timeout: time.Second})
	require.NoError(t, err)
	assert.False(t, resp.Approved)
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_StoreErrors(t *testing.T) {
	t.Run("save failure aborts wait", func(t *testing.T) {
		m := NewManager(&testStore{saveFn: func(context.Context, *Approval) error {
			return errors.New("disk full")
		}}, nil)
		_, err := m.Wait(context.Background(), Options{Timeout: time.Second})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("update failure still delivers the signal", func(t *testing.T) {
		m := NewManager(&testStore{updateFn: func(context.Context, *Approval) error {
			return errors.New("update failed")
		}}, nil)
		done := make(chan *Response, 1)
		go func() {
			resp, _ := m.Wait(context.Background(), Options{ID: "u1", Timeout: time.Second})
			done <- resp
		}()
		waitPending(t, m)
		assert.Error(t, m.Resolve(context.Background(), "u1", &Response{Approved: true}))
		resp := <-done
		require.NotNil(t, resp)
		assert.True(t, resp.Approved)
	})

	t.Run("non-positive timeout", func(t *testing.T) {
		_, err := NewManager(nil, nil).Wait(context.Background(), Options{})
		assert.Error(t, err)
	})
}

func TestMemoryStore_List(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Save(ctx, &Approval{ID: "1", WorkflowID: "a", Status: StatusPending, CreatedAt: now}))
	require.NoError(t, s.Save(ctx, &Approval{ID: "2", WorkflowID: "a", Status: StatusApproved, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.Save(ctx, &Approval{ID: "3", WorkflowID: "b", Status: StatusPending, CreatedAt: now}))

	all, err := s.List(ctx, "a", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID)

	pending, err := s.List(ctx, "", StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingObserver struct {
	started  atomic.Int32
	outcomes chan string
}

func (o *countingObserver) ApprovalStarted() { o.started.Add(1) }

func (o *countingObserver) ApprovalFinished(outcome string) { o.outcomes <- outcome }

func TestManager_ObserverSeesOutcomes(t *testing.T) {
	m := NewManager(nil, nil)
	obs := &countingObserver{outcomes: make(chan string, 4)}
	m.SetObserver(obs)
	ctx := context.Background()

	_, err := m.Wait(ctx, Options{NodeID: "n", Timeout: 10 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "timeout", <-obs.outcomes)

	go func() {
		p := waitPending(t, m)
		_ = m.Resolve(ctx, p.ID, &Response{Approved: false})
	}()
	resp, err := m.Wait(ctx, Options{NodeID: "n", Timeout: time.Second})
	require.NoError(t, err)
	assert.False(t, resp.Approved)
	assert.Equal(t, "rejected", <-obs.outcomes)
	assert.Equal(t, int32(2), obs.started.Load())
}
