// Package session models TSS ceremony sessions and their stages.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State string

const (
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// StageType names a ceremony within a session.
type StageType string

const (
	StageTriples StageType = "TRIPLES"
	StagePresign StageType = "PRESIGN"
	StageSign    StageType = "SIGN"
)

// Status is the position of a stage in its ceremony.
type Status string

const StatusCompleted Status = "COMPLETED"

// StepStatus is the status a stage holds after step n.
func StepStatus(n int) Status {
	return Status(fmt.Sprintf("STEP_%d", n))
}

var (
	ErrSessionNotFound = errors.New("tss session not found")
	ErrStageNotFound   = errors.New("tss stage not found")
	ErrStageExists     = errors.New("tss stage already exists")
	ErrStageConflict   = errors.New("tss stage is not at the expected status")
	ErrSessionConflict = errors.New("tss session is not in the expected state")
	ErrUnknownStep     = errors.New("unknown ceremony step")
)

// Steps is the number of client round-trips in a ceremony.
func (t StageType) Steps() int {
	switch t {
	case StageTriples:
		return 11
	case StagePresign:
		return 3
	case StageSign:
		return 2
	default:
		return 0
	}
}

// Requires is the stage that must be completed in the same session before t may start.
func (t StageType) Requires() (StageType, bool) {
	switch t {
	case StagePresign:
		return StageTriples, true
	case StageSign:
		return StagePresign, true
	default:
		return "", false
	}
}

// Transition returns the status a stage must hold before step n and the one it
// holds after. Step 1 has no predecessor; the last step completes the stage.
func (t StageType) Transition(step int) (from, to Status, err error) {
	last := t.Steps()
	if step < 1 || step > last {
		return "", "", fmt.Errorf("%w: %s step %d", ErrUnknownStep, t, step)
	}
	if step > 1 {
		from = StepStatus(step - 1)
	}
	to = StepStatus(step)
	if step == last {
		to = StatusCompleted
	}
	return from, to, nil
}

// Session is one signing-material flow bound to a wallet and customer.
type Session struct {
	ID         uuid.UUID
	WalletID   uuid.UUID
	CustomerID string
	State      State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Stage is the persisted progress of one ceremony in a session.
type Stage struct {
	SessionID uuid.UUID
	Type      StageType
	Status    Status
	Data      StageData
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StageWithSession is a stage joined with its parent session.
type StageWithSession struct {
	Stage   Stage
	Session Session
}

// Advance moves a stage from one status to the next and replaces its data.
// With CompleteSession set the parent session is completed in the same write.
type Advance struct {
	SessionID       uuid.UUID
	Type            StageType
	From            Status
	To              Status
	Data            StageData
	CompleteSession bool
}

// Store persists sessions and stages.
//
// AdvanceStage is a compare-and-swap: it fails with ErrStageConflict unless the
// stage still holds From, and with ErrSessionConflict unless the session is in progress.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	CreateSessionWithStage(ctx context.Context, s *Session, st *Stage) error
	CreateStage(ctx context.Context, st *Stage) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	GetStageWithSession(ctx context.Context, id uuid.UUID, t StageType) (*StageWithSession, error)
	AdvanceStage(ctx context.Context, a Advance) error
	UpdateSessionState(ctx context.Context, id uuid.UUID, from, to State) error
}
