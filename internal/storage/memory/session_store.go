// Package memory provides in-process stores with the same contracts as the
// gorm repositories. They back the "memory" store driver and the tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wellness-sessions/internal/model"
)

var errSessionNil = errors.New("session cannot be nil")

// SessionStore keeps sessions in a map guarded by a single RWMutex, which
// makes every replace atomic with respect to other writers.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	users    *UserStore
	now      func() time.Time
}

// NewSessionStore creates an empty store. users is optional and only used to
// populate authors on listings.
func NewSessionStore(users *UserStore) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*model.Session),
		users:    users,
		now:      time.Now,
	}
}

func (s *SessionStore) Create(ctx context.Context, session *model.Session) error {
	if session == nil {
		return errSessionNil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if _, exists := s.sessions[session.ID]; exists {
		return errors.New("session with ID " + session.ID + " already exists")
	}
	if session.Status == "" {
		session.Status = model.StatusDraft
	}
	now := s.now()
	session.CreatedAt = now
	session.UpdatedAt = now

	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *SessionStore) GetByIDAndUserID(ctx context.Context, id string, userID uint) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[id]
	if !ok || stored.UserID != userID {
		return nil, nil
	}
	return stored.Clone(), nil
}

func (s *SessionStore) ReplaceByIDAndUserID(ctx context.Context, session *model.Session) (string, bool, error) {
	if session == nil {
		return "", false, errSessionNil
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[session.ID]
	if !ok || stored.UserID != session.UserID {
		return "", false, nil
	}
	previousStatus := stored.Status

	next := stored.Clone()
	next.SessionContent = session.SessionContent.Clone()
	next.Status = session.Status
	next.UpdatedAt = s.now()
	s.sessions[next.ID] = next

	*session = *next.Clone()
	return previousStatus, true, nil
}

func (s *SessionStore) DeleteByIDAndUserID(ctx context.Context, id string, userID uint) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok || stored.UserID != userID {
		return nil, nil
	}
	delete(s.sessions, id)
	return stored, nil
}

func (s *SessionStore) List(ctx context.Context, query model.SessionQuery) ([]model.Session, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	matched := make([]model.Session, 0, len(s.sessions))
	for _, stored := range s.sessions {
		if matches(stored, query) {
			matched = append(matched, *stored.Clone())
		}
	}
	s.mu.RUnlock()

	sortSessions(matched, query.Order)
	total := int64(len(matched))

	if query.Limit > 0 {
		start := min(query.Offset, len(matched))
		end := min(start+query.Limit, len(matched))
		matched = matched[start:end]
	}

	if query.WithAuthor && s.users != nil {
		for i := range matched {
			if owner, err := s.users.GetByID(ctx, matched[i].UserID); err == nil && owner != nil {
				matched[i].Owner = owner
			}
		}
	}
	return matched, total, nil
}

func matches(session *model.Session, query model.SessionQuery) bool {
	if query.UserID != 0 && session.UserID != query.UserID {
		return false
	}
	if query.Status != "" && session.Status != query.Status {
		return false
	}
	if query.Category != "" && session.Category != query.Category {
		return false
	}
	if len(query.Tags) > 0 && !hasAnyTag(session.Tags, query.Tags) {
		return false
	}
	if query.Search != "" {
		term := strings.ToLower(query.Search)
		if !strings.Contains(strings.ToLower(session.Title), term) &&
			!strings.Contains(strings.ToLower(session.Description), term) {
			return false
		}
	}
	return true
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func sortSessions(sessions []model.Session, order string) {
	byUpdated := order == model.OrderRecentlyUpdated
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i].CreatedAt, sessions[j].CreatedAt
		if byUpdated {
			a, b = sessions[i].UpdatedAt, sessions[j].UpdatedAt
		}
		if a.Equal(b) {
			return sessions[i].ID > sessions[j].ID
		}
		return a.After(b)
	})
}
