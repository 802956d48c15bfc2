package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tss-coordinator/internal/session"
	"tss-coordinator/internal/storage/models"
)

// SessionStore is the postgres session.Store.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

var _ session.Store = (*SessionStore)(nil)

func sessionRow(s *session.Session) *models.TssSession {
	return &models.TssSession{
		ID:           s.ID,
		WalletID:     s.WalletID,
		CustomerID:   s.CustomerID,
		SessionState: string(s.State),
	}
}

func sessionFromRow(r *models.TssSession) session.Session {
	return session.Session{
		ID:         r.ID,
		WalletID:   r.WalletID,
		CustomerID: r.CustomerID,
		State:      session.State(r.SessionState),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func stageRow(st *session.Stage) (*models.TssStage, error) {
	if err := session.ValidateData(st.Type, st.Data); err != nil {
		return nil, err
	}
	raw, err := session.EncodeData(st.Data)
	if err != nil {
		return nil, err
	}
	return &models.TssStage{
		ID:          uuid.New(),
		SessionID:   st.SessionID,
		StageType:   string(st.Type),
		StageStatus: string(st.Status),
		StageData:   raw,
	}, nil
}

func stageFromRow(r *models.TssStage) (session.Stage, error) {
	t := session.StageType(r.StageType)
	data, err := session.DecodeData(t, r.StageData)
	if err != nil {
		return session.Stage{}, err
	}
	return session.Stage{
		SessionID: r.SessionID,
		Type:      t,
		Status:    session.Status(r.StageStatus),
		Data:      data,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func createSession(tx *gorm.DB, s *session.Session) (*models.TssSession, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.State == "" {
		s.State = session.StateInProgress
	}
	row := sessionRow(s)
	if err := tx.Create(row).Error; err != nil {
		return nil, err
	}
	s.CreatedAt, s.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return row, nil
}

func createStage(tx *gorm.DB, st *session.Stage) error {
	row, err := stageRow(st)
	if err != nil {
		return err
	}
	if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
		if _, dup := violatedConstraint(err); dup {
			return session.ErrStageExists
		}
		return err
	}
	st.CreatedAt, st.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *SessionStore) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := createSession(s.db.WithContext(ctx), sess)
	return err
}

// CreateSessionWithStage writes the session and its first stage in one transaction.
func (s *SessionStore) CreateSessionWithStage(ctx context.Context, sess *session.Session, st *session.Stage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := createSession(tx, sess); err != nil {
			return err
		}
		st.SessionID = sess.ID
		return createStage(tx, st)
	})
}

func (s *SessionStore) CreateStage(ctx context.Context, st *session.Stage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.TssSession{}).Where("id = ?", st.SessionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return session.ErrSessionNotFound
		}
		return createStage(tx, st)
	})
}

func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	var row models.TssSession
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	out := sessionFromRow(&row)
	return &out, nil
}

func (s *SessionStore) GetStageWithSession(ctx context.Context, id uuid.UUID, t session.StageType) (*session.StageWithSession, error) {
	var row models.TssStage
	err := s.db.WithContext(ctx).Preload("Session").
		First(&row, "session_id = ? AND stage_type = ?", id, string(t)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if _, err := s.GetSession(ctx, id); err != nil {
			return nil, err
		}
		return nil, session.ErrStageNotFound
	}
	if err != nil {
		return nil, err
	}
	st, err := stageFromRow(&row)
	if err != nil {
		return nil, err
	}
	return &session.StageWithSession{Stage: st, Session: sessionFromRow(&row.Session)}, nil
}

// AdvanceStage updates the stage only where it still holds a.From and its
// session is in progress, so concurrent writers cannot both succeed.
func (s *SessionStore) AdvanceStage(ctx context.Context, a session.Advance) error {
	if err := session.ValidateData(a.Type, a.Data); err != nil {
		return err
	}
	raw, err := session.EncodeData(a.Data)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.TssStage{}).
			Where("session_id = ? AND stage_type = ? AND stage_status = ?", a.SessionID, string(a.Type), string(a.From)).
			Where("EXISTS (SELECT 1 FROM tss_sessions WHERE tss_sessions.id = ? AND tss_sessions.session_state = ?)",
				a.SessionID, string(session.StateInProgress)).
			Updates(map[string]any{
				"stage_status": string(a.To),
				"stage_data":   raw,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.explainMiss(tx, a)
		}
		if !a.CompleteSession {
			return nil
		}
		res = tx.Model(&models.TssSession{}).
			Where("id = ? AND session_state = ?", a.SessionID, string(session.StateInProgress)).
			Updates(map[string]any{"session_state": string(session.StateCompleted), "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return session.ErrSessionConflict
		}
		return nil
	})
}

// explainMiss works out why a conditional stage update matched nothing.
func (s *SessionStore) explainMiss(tx *gorm.DB, a session.Advance) error {
	var sess models.TssSession
	if err := tx.First(&sess, "id = ?", a.SessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.ErrSessionNotFound
		}
		return err
	}
	if sess.SessionState != string(session.StateInProgress) {
		return session.ErrSessionConflict
	}
	var count int64
	if err := tx.Model(&models.TssStage{}).
		Where("session_id = ? AND stage_type = ?", a.SessionID, string(a.Type)).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return session.ErrStageNotFound
	}
	return session.ErrStageConflict
}

func (s *SessionStore) UpdateSessionState(ctx context.Context, id uuid.UUID, from, to session.State) error {
	res := s.db.WithContext(ctx).Model(&models.TssSession{}).
		Where("id = ? AND session_state = ?", id, string(from)).
		Updates(map[string]any{"session_state": string(to), "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return session.ErrSessionConflict
	}
	return nil
}
