package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTriplesSession(t *testing.T, m *MemoryStore) *Session {
	t.Helper()
	s := &Session{WalletID: uuid.New(), CustomerID: "acme"}
	st := &Stage{Type: StageTriples, Status: StepStatus(1), Data: TriplesData{State: json.RawMessage(`{"r":1}`)}}
	require.NoError(t, m.CreateSessionWithStage(context.Background(), s, st))
	return s
}

func TestTransition(t *testing.T) {
	from, to, err := StageTriples.Transition(1)
	require.NoError(t, err)
	assert.Equal(t, Status(""), from)
	assert.Equal(t, Status("STEP_1"), to)

	from, to, err = StageTriples.Transition(7)
	require.NoError(t, err)
	assert.Equal(t, Status("STEP_6"), from)
	assert.Equal(t, Status("STEP_7"), to)

	from, to, err = StageTriples.Transition(11)
	require.NoError(t, err)
	assert.Equal(t, Status("STEP_10"), from)
	assert.Equal(t, StatusCompleted, to)

	from, to, err = StageSign.Transition(2)
	require.NoError(t, err)
	assert.Equal(t, Status("STEP_1"), from)
	assert.Equal(t, StatusCompleted, to)

	_, _, err = StagePresign.Transition(4)
	assert.ErrorIs(t, err, ErrUnknownStep)
	_, _, err = StageSign.Transition(0)
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestRequires(t *testing.T) {
	_, ok := StageTriples.Requires()
	assert.False(t, ok)
	prev, ok := StagePresign.Requires()
	assert.True(t, ok)
	assert.Equal(t, StageTriples, prev)
	prev, ok = StageSign.Requires()
	assert.True(t, ok)
	assert.Equal(t, StagePresign, prev)
}

func TestDataRoundTrip(t *testing.T) {
	raw, err := EncodeData(SignData{MessageHash: "ab", BigR: "02ff"})
	require.NoError(t, err)
	d, err := DecodeData(StageSign, raw)
	require.NoError(t, err)
	assert.Equal(t, SignData{MessageHash: "ab", BigR: "02ff"}, d)

	_, err = DecodeData(StageType("KEYGEN"), raw)
	assert.Error(t, err)
	assert.Error(t, ValidateData(StagePresign, TriplesData{}))
	assert.NoError(t, ValidateData(StagePresign, PresignData{}))
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	m := NewMemoryStore()
	s := newTriplesSession(t, m)
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, StateInProgress, s.State)

	got, err := m.GetStageWithSession(context.Background(), s.ID, StageTriples)
	require.NoError(t, err)
	assert.Equal(t, s.WalletID, got.Session.WalletID)
	assert.Equal(t, StepStatus(1), got.Stage.Status)
	assert.Equal(t, TriplesData{State: json.RawMessage(`{"r":1}`)}, got.Stage.Data)

	_, err = m.GetStageWithSession(context.Background(), s.ID, StagePresign)
	assert.ErrorIs(t, err, ErrStageNotFound)
	_, err = m.GetStageWithSession(context.Background(), uuid.New(), StageTriples)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_CreateStageTwice(t *testing.T) {
	m := NewMemoryStore()
	s := newTriplesSession(t, m)

	err := m.CreateStage(context.Background(), &Stage{SessionID: s.ID, Type: StageTriples, Status: StepStatus(1), Data: TriplesData{}})
	assert.ErrorIs(t, err, ErrStageExists)

	err = m.CreateStage(context.Background(), &Stage{SessionID: uuid.New(), Type: StagePresign, Status: StepStatus(1), Data: PresignData{}})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = m.CreateStage(context.Background(), &Stage{SessionID: s.ID, Type: StagePresign, Status: StepStatus(1), Data: SignData{}})
	assert.Error(t, err)
}

func TestMemoryStore_AdvanceIsCompareAndSwap(t *testing.T) {
	m := NewMemoryStore()
	s := newTriplesSession(t, m)
	ctx := context.Background()

	err := m.AdvanceStage(ctx, Advance{SessionID: s.ID, Type: StageTriples, From: StepStatus(2), To: StepStatus(3), Data: TriplesData{}})
	assert.ErrorIs(t, err, ErrStageConflict)

	got, err := m.GetStageWithSession(ctx, s.ID, StageTriples)
	require.NoError(t, err)
	assert.Equal(t, StepStatus(1), got.Stage.Status)

	require.NoError(t, m.AdvanceStage(ctx, Advance{SessionID: s.ID, Type: StageTriples, From: StepStatus(1), To: StepStatus(2), Data: TriplesData{State: json.RawMessage(`2`)}}))
	got, err = m.GetStageWithSession(ctx, s.ID, StageTriples)
	require.NoError(t, err)
	assert.Equal(t, StepStatus(2), got.Stage.Status)
	assert.Equal(t, TriplesData{State: json.RawMessage(`2`)}, got.Stage.Data)
}

func TestMemoryStore_ConcurrentAdvanceHasOneWinner(t *testing.T) {
	m := NewMemoryStore()
	s := newTriplesSession(t, m)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.AdvanceStage(context.Background(), Advance{SessionID: s.ID, Type: StageTriples, From: StepStatus(1), To: StepStatus(2), Data: TriplesData{}})
			switch err {
			case nil:
				wins.Add(1)
			case ErrStageConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), conflicts.Load())
}

func TestMemoryStore_CompleteSession(t *testing.T) {
	m := NewMemoryStore()
	s := &Session{WalletID: uuid.New(), CustomerID: "acme"}
	ctx := context.Background()
	require.NoError(t, m.CreateSessionWithStage(ctx, s, &Stage{Type: StageSign, Status: StepStatus(1), Data: SignData{MessageHash: "aa"}}))

	require.NoError(t, m.AdvanceStage(ctx, Advance{SessionID: s.ID, Type: StageSign, From: StepStatus(1), To: StatusCompleted, Data: SignData{MessageHash: "aa", S: "01"}, CompleteSession: true}))

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)

	// nothing moves once the session is closed
	err = m.AdvanceStage(ctx, Advance{SessionID: s.ID, Type: StageSign, From: StatusCompleted, To: StatusCompleted, Data: SignData{}})
	assert.ErrorIs(t, err, ErrSessionConflict)
}

func TestMemoryStore_UpdateSessionState(t *testing.T) {
	m := NewMemoryStore()
	s := &Session{WalletID: uuid.New(), CustomerID: "acme"}
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, s))

	require.NoError(t, m.UpdateSessionState(ctx, s.ID, StateInProgress, StateFailed))
	assert.ErrorIs(t, m.UpdateSessionState(ctx, s.ID, StateInProgress, StateFailed), ErrSessionConflict)
	assert.ErrorIs(t, m.UpdateSessionState(ctx, uuid.New(), StateInProgress, StateFailed), ErrSessionNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	s := newTriplesSession(t, m)

	got, err := m.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	got.State = StateFailed

	again, err := m.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, again.State)
}

func TestMemoryStore_CopiesStageData(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	s := &Session{WalletID: uuid.New(), CustomerID: "acme"}
	state := json.RawMessage(`{"r":1}`)
	require.NoError(t, m.CreateSessionWithStage(ctx, s, &Stage{Type: StageTriples, Status: StepStatus(1), Data: TriplesData{State: state}}))
	state[5] = '9'

	got, err := m.GetStageWithSession(ctx, s.ID, StageTriples)
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":1}`, string(got.Stage.Data.(TriplesData).State))

	next := json.RawMessage(`{"r":2}`)
	result := json.RawMessage(`{"t":"x"}`)
	require.NoError(t, m.AdvanceStage(ctx, Advance{SessionID: s.ID, Type: StageTriples, From: StepStatus(1), To: StepStatus(2), Data: TriplesData{State: next, Result: result}}))
	next[5] = '9'
	result[6] = 'y'

	got, err = m.GetStageWithSession(ctx, s.ID, StageTriples)
	require.NoError(t, err)
	data := got.Stage.Data.(TriplesData)
	assert.JSONEq(t, `{"r":2}`, string(data.State))
	assert.JSONEq(t, `{"t":"x"}`, string(data.Result))

	// what a read returns is the caller's to change
	data.State[5] = '7'
	again, err := m.GetStageWithSession(ctx, s.ID, StageTriples)
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":2}`, string(again.Stage.Data.(TriplesData).State))
}
