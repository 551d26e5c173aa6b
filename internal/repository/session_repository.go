package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wellness-sessions/internal/model"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(session).Error; err != nil {
			return err
		}
		return replaceTags(tx, session)
	})
	if err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByIDAndUserID(ctx context.Context, id string, userID uint) (*model.Session, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

// ReplaceByIDAndUserID overwrites the content and status of the owned session
// identified by session.ID. The row is locked for the duration of the
// transaction so concurrent replaces of the same id are applied one after the
// other. On success session is refreshed with the stored record.
func (r *SessionRepository) ReplaceByIDAndUserID(ctx context.Context, session *model.Session) (string, bool, error) {
	var previousStatus string
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", session.ID, session.UserID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		previousStatus = existing.Status

		existing.SessionContent = session.SessionContent.Clone()
		existing.Status = session.Status
		if err := tx.Omit(clause.Associations).Save(&existing).Error; err != nil {
			return err
		}
		if err := replaceTags(tx, &existing); err != nil {
			return err
		}
		*session = existing
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("replace session failed: %w", err)
	}
	return previousStatus, found, nil
}

// DeleteByIDAndUserID removes the owned session and returns the deleted
// record, or nil when nothing matched.
func (r *SessionRepository) DeleteByIDAndUserID(ctx context.Context, id string, userID uint) (*model.Session, error) {
	var deleted *model.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", id, userID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", existing.ID).Delete(&model.SessionTag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Session{}).Error; err != nil {
			return err
		}
		deleted = &existing
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete session failed: %w", err)
	}
	return deleted, nil
}

func (r *SessionRepository) List(ctx context.Context, query model.SessionQuery) ([]model.Session, int64, error) {
	filter := func(db *gorm.DB) *gorm.DB {
		return applySessionFilter(db, r.db, query)
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Session{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count sessions failed: %w", err)
	}

	sessions := make([]model.Session, 0)
	if err := r.pageQuery(ctx, query).Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, total, nil
}

// pageQuery orders and pages a filtered listing. Both orders end in id so
// offsets stay stable when timestamps tie.
func (r *SessionRepository) pageQuery(ctx context.Context, query model.SessionQuery) *gorm.DB {
	order := query.Order
	if order == "" {
		order = model.OrderNewest
	}
	find := r.db.WithContext(ctx).Scopes(func(db *gorm.DB) *gorm.DB {
		return applySessionFilter(db, r.db, query)
	}).Order(order)
	if query.Limit > 0 {
		find = find.Offset(query.Offset).Limit(query.Limit)
	}
	if query.WithAuthor {
		find = find.Preload("Owner")
	}
	return find
}

func applySessionFilter(db, root *gorm.DB, query model.SessionQuery) *gorm.DB {
	if query.UserID != 0 {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.Category != "" {
		db = db.Where("category = ?", query.Category)
	}
	if len(query.Tags) > 0 {
		tagged := root.Model(&model.SessionTag{}).Select("session_id").Where("tag IN ?", query.Tags)
		db = db.Where("id IN (?)", tagged)
	}
	if query.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(query.Search)) + "%"
		db = db.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", pattern, pattern)
	}
	return db
}

func replaceTags(tx *gorm.DB, session *model.Session) error {
	if err := tx.Where("session_id = ?", session.ID).Delete(&model.SessionTag{}).Error; err != nil {
		return err
	}
	rows := session.BuildTagRows()
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}
