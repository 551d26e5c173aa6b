package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

const (
	CategoryYoga        = "yoga"
	CategoryMeditation  = "meditation"
	CategoryBreathing   = "breathing"
	CategoryMindfulness = "mindfulness"
	CategoryOther       = "other"
)

const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

var (
	Statuses     = []string{StatusDraft, StatusPublished}
	Categories   = []string{CategoryYoga, CategoryMeditation, CategoryBreathing, CategoryMindfulness, CategoryOther}
	Difficulties = []string{DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced}
)

// SessionContent holds the author-editable fields. A save replaces all of
// them at once.
type SessionContent struct {
	Title       string                      `gorm:"size:200;not null" json:"title"`
	Description string                      `gorm:"size:1000" json:"description"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	JSONFileURL string                      `gorm:"size:512" json:"json_file_url"`
	Duration    int                         `gorm:"not null;default:0" json:"duration"`
	Difficulty  string                      `gorm:"size:16;not null;default:beginner" json:"difficulty"`
	Category    string                      `gorm:"size:16;not null;default:other;index" json:"category"`
}

// Clone returns a copy that shares no slices with c.
func (c SessionContent) Clone() SessionContent {
	if c.Tags != nil {
		c.Tags = append(datatypes.JSONSlice[string]{}, c.Tags...)
	}
	return c
}

type Session struct {
	ID     string `gorm:"type:char(36);primaryKey" json:"_id"`
	UserID uint   `gorm:"not null;index:idx_sessions_user_status,priority:1" json:"user_id"`
	SessionContent
	Status    string                    `gorm:"size:16;not null;default:draft;index:idx_sessions_user_status,priority:2;index:idx_sessions_status_created,priority:1" json:"status"`
	Views     int64                     `gorm:"not null;default:0" json:"views"`
	Likes     datatypes.JSONSlice[uint] `json:"likes"`
	CreatedAt time.Time                 `gorm:"index:idx_sessions_status_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time                 `json:"updatedAt"`

	Owner   *User        `gorm:"foreignKey:UserID" json:"-"`
	TagRows []SessionTag `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

// SessionTag indexes tag membership so listings can filter without JSON
// operators.
type SessionTag struct {
	SessionID string `gorm:"type:char(36);primaryKey"`
	Tag       string `gorm:"size:64;primaryKey;index"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// BuildTagRows derives the tag index rows for the session's current tags.
func (s *Session) BuildTagRows() []SessionTag {
	rows := make([]SessionTag, 0, len(s.Tags))
	for _, tag := range s.Tags {
		rows = append(rows, SessionTag{SessionID: s.ID, Tag: tag})
	}
	return rows
}

// Clone returns a deep copy without associations.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.SessionContent = s.SessionContent.Clone()
	if s.Likes != nil {
		cp.Likes = append(datatypes.JSONSlice[uint]{}, s.Likes...)
	}
	cp.TagRows = nil
	if s.Owner != nil {
		owner := *s.Owner
		cp.Owner = &owner
	}
	return &cp
}

func (s Session) MarshalJSON() ([]byte, error) {
	type plain Session
	tags := s.Tags
	if tags == nil {
		tags = datatypes.JSONSlice[string]{}
	}
	likes := s.Likes
	if likes == nil {
		likes = datatypes.JSONSlice[uint]{}
	}
	out := plain(s)
	out.Tags = tags
	out.Likes = likes
	return json.Marshal(struct {
		plain
		LikeCount int     `json:"likeCount"`
		Author    *Author `json:"author,omitempty"`
	}{
		plain:     out,
		LikeCount: len(likes),
		Author:    s.Owner.Author(),
	})
}
