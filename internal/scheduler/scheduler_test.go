package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatch struct {
	registered map[string]time.Time
	cancelled  []string
	failWith   error
}

func newFakeDispatch() *fakeDispatch {
	return &fakeDispatch{registered: map[string]time.Time{}}
}

func (f *fakeDispatch) Schedule(_ context.Context, key string, when time.Time, _ string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.registered[key]; ok {
		return ErrDuplicate
	}
	f.registered[key] = when
	return nil
}

func (f *fakeDispatch) Cancel(_ context.Context, key string) error {
	f.cancelled = append(f.cancelled, key)
	delete(f.registered, key)
	return nil
}

func TestScheduleDeduplicates(t *testing.T) {
	d := newFakeDispatch()
	s := New(d, "https://svc.example")
	at := time.Now().UTC().Add(2 * time.Hour)

	res, err := s.Schedule(context.Background(), KindEnforce, "b-1", at)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	res, err = s.Schedule(context.Background(), KindEnforce, "b-1", at)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res)

	assert.Len(t, d.registered, 1, "collaborator must receive exactly one registration")
}

func TestKeyIsDeterministicAndDistinct(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, Key(KindRemind, "b-1", at), Key(KindRemind, "b-1", at))
	assert.NotEqual(t, Key(KindRemind, "b-1", at), Key(KindEnforce, "b-1", at))
	assert.NotEqual(t, Key(KindRemind, "b-1", at), Key(KindRemind, "b-2", at))
	assert.NotEqual(t, Key(KindRemind, "b-1", at), Key(KindRemind, "b-1", at.Add(time.Second)))
}

func TestPastFiresAtDispatchesNow(t *testing.T) {
	d := newFakeDispatch()
	s := New(d, "https://svc.example")
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	firesAt := now.Add(-30 * time.Minute)
	res, err := s.Schedule(context.Background(), KindRemind, "b-1", firesAt)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	// dispatched immediately, but keyed on the nominal time
	assert.Equal(t, now, d.registered[Key(KindRemind, "b-1", firesAt)])
}

func TestScheduleFailurePropagates(t *testing.T) {
	d := newFakeDispatch()
	d.failWith = errors.New("quota exceeded")
	s := New(d, "https://svc.example")

	_, err := s.Schedule(context.Background(), KindEnforce, "b-1", time.Now().Add(time.Hour))
	require.Error(t, err)
}

func TestCancelForDropsBothActions(t *testing.T) {
	d := newFakeDispatch()
	s := New(d, "https://svc.example")
	remindAt := time.Now().UTC().Add(time.Hour)
	enforceAt := remindAt.Add(time.Hour)

	_, err := s.Schedule(context.Background(), KindRemind, "b-1", remindAt)
	require.NoError(t, err)
	_, err = s.Schedule(context.Background(), KindEnforce, "b-1", enforceAt)
	require.NoError(t, err)

	require.NoError(t, s.CancelFor(context.Background(), "b-1", remindAt, enforceAt))
	assert.Empty(t, d.registered)
}

func TestRouteTargetsCallback(t *testing.T) {
	s := New(newFakeDispatch(), "https://svc.example")
	assert.Equal(t, "https://svc.example/api/v1/tasks/remind/b-1", s.route(KindRemind, "b-1"))
	assert.Equal(t, "https://svc.example/api/v1/tasks/enforce/b-1", s.route(KindEnforce, "b-1"))
}
