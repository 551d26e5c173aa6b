package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"wellness-sessions/internal/model"
	"wellness-sessions/internal/platform/metrics"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 1000
	maxTags              = 50
	maxTagLength         = 64
	defaultPageSize      = 10
	maxPageSize          = 100
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the record store behind the workflow. ReplaceByIDAndUserID
// and DeleteByIDAndUserID must be atomic per identifier.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	GetByIDAndUserID(ctx context.Context, id string, userID uint) (*model.Session, error)
	ReplaceByIDAndUserID(ctx context.Context, session *model.Session) (previousStatus string, found bool, err error)
	DeleteByIDAndUserID(ctx context.Context, id string, userID uint) (*model.Session, error)
	List(ctx context.Context, query model.SessionQuery) ([]model.Session, int64, error)
}

type SessionEventPublisher interface {
	Publish(ctx context.Context, event model.SessionEvent) error
}

type ListingCache interface {
	// GetListing returns nil on a miss, plus the version to store the
	// freshly built page under.
	GetListing(ctx context.Context, query model.SessionQuery) (*model.SessionPage, int64, error)
	SetListing(ctx context.Context, query model.SessionQuery, version int64, page *model.SessionPage) error
	Invalidate(ctx context.Context) error
}

// SaveCommand is the caller's explicit choice between creating a new session
// and replacing an existing one.
type SaveCommand struct {
	update  bool
	id      string
	payload model.SessionContent
}

func CreateCommand(payload model.SessionContent) SaveCommand {
	return SaveCommand{payload: payload}
}

func UpdateCommand(id string, payload model.SessionContent) SaveCommand {
	return SaveCommand{update: true, id: id, payload: payload}
}

func (c SaveCommand) IsUpdate() bool { return c.update }

func (c SaveCommand) ID() string { return c.id }

type ListFilter struct {
	Category string
	Tags     []string
	Search   string
}

type SessionService struct {
	store     SessionStore
	publisher SessionEventPublisher
	listing   ListingCache
	pageSize  PageSizeConfig
	logger    zerolog.Logger
	now       func() time.Time
}

type PageSizeConfig struct {
	Default int
	Max     int
}

func NewSessionService(
	store SessionStore,
	publisher SessionEventPublisher,
	listing ListingCache,
	pageSize PageSizeConfig,
	logger zerolog.Logger,
) *SessionService {
	if pageSize.Default <= 0 {
		pageSize.Default = defaultPageSize
	}
	if pageSize.Max <= 0 {
		pageSize.Max = maxPageSize
	}
	return &SessionService{
		store:     store,
		publisher: publisher,
		listing:   listing,
		pageSize:  pageSize,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *SessionService) SaveDraft(ctx context.Context, ownerID uint, cmd SaveCommand) (*model.Session, error) {
	return s.Save(ctx, ownerID, cmd, model.StatusDraft)
}

func (s *SessionService) Publish(ctx context.Context, ownerID uint, cmd SaveCommand) (*model.Session, error) {
	return s.Save(ctx, ownerID, cmd, model.StatusPublished)
}

func (s *SessionService) Save(ctx context.Context, ownerID uint, cmd SaveCommand, status string) (*model.Session, error) {
	if cmd.update {
		return s.Update(ctx, ownerID, cmd.id, cmd.payload, status)
	}
	return s.Create(ctx, ownerID, cmd.payload, status)
}

// Create persists a new session owned by ownerID with the requested status.
func (s *SessionService) Create(ctx context.Context, ownerID uint, payload model.SessionContent, status string) (*model.Session, error) {
	content := normalizeContent(payload)
	if err := validateSave(ownerID, content, status); err != nil {
		return nil, err
	}

	session := &model.Session{
		UserID:         ownerID,
		SessionContent: content,
		Status:         status,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}
	metrics.SessionWrites.WithLabelValues("create", status).Inc()

	s.emit(ctx, model.SessionEvent{
		Type:      model.SessionEventSaved,
		SessionID: session.ID,
		UserID:    ownerID,
		Status:    status,
	})
	return session, nil
}

// Update replaces every content field and the status of an owned session.
// A missing or foreign id yields ErrSessionNotFound and nothing is written.
func (s *SessionService) Update(ctx context.Context, ownerID uint, id string, payload model.SessionContent, status string) (*model.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required for update", ErrInvalidInput)
	}
	content := normalizeContent(payload)
	if err := validateSave(ownerID, content, status); err != nil {
		return nil, err
	}

	session := &model.Session{
		ID:             id,
		UserID:         ownerID,
		SessionContent: content,
		Status:         status,
	}
	previousStatus, found, err := s.store.ReplaceByIDAndUserID(ctx, session)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	metrics.SessionWrites.WithLabelValues("update", status).Inc()

	s.emit(ctx, model.SessionEvent{
		Type:           model.SessionEventSaved,
		SessionID:      session.ID,
		UserID:         ownerID,
		Status:         status,
		PreviousStatus: previousStatus,
	})
	return session, nil
}

func (s *SessionService) Delete(ctx context.Context, ownerID uint, id string) error {
	if ownerID == 0 || strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	deleted, err := s.store.DeleteByIDAndUserID(ctx, strings.TrimSpace(id), ownerID)
	if err != nil {
		return err
	}
	if deleted == nil {
		return ErrSessionNotFound
	}
	metrics.SessionWrites.WithLabelValues("delete", deleted.Status).Inc()

	s.emit(ctx, model.SessionEvent{
		Type:           model.SessionEventDeleted,
		SessionID:      deleted.ID,
		UserID:         ownerID,
		PreviousStatus: deleted.Status,
	})
	return nil
}

func (s *SessionService) Get(ctx context.Context, ownerID uint, id string) (*model.Session, error) {
	if ownerID == 0 || strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.store.GetByIDAndUserID(ctx, strings.TrimSpace(id), ownerID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListMine returns the owner's sessions, most recently updated first.
func (s *SessionService) ListMine(ctx context.Context, ownerID uint, status string) ([]model.Session, error) {
	if ownerID == 0 {
		return nil, ErrInvalidInput
	}
	status = strings.TrimSpace(strings.ToLower(status))
	if status != "" && !slices.Contains(model.Statuses, status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	sessions, _, err := s.store.List(ctx, model.SessionQuery{
		UserID: ownerID,
		Status: status,
		Order:  model.OrderRecentlyUpdated,
	})
	return sessions, err
}

// ListPublished pages through published sessions, newest first.
func (s *SessionService) ListPublished(ctx context.Context, filter ListFilter, page, pageSize int) (*model.SessionPage, error) {
	if page < 1 {
		page = 1
	}
	pageSize = s.clampPageSize(pageSize)

	query := model.SessionQuery{
		Status:     model.StatusPublished,
		Category:   strings.TrimSpace(strings.ToLower(filter.Category)),
		Tags:       normalizeTags(filter.Tags),
		Search:     strings.TrimSpace(filter.Search),
		Order:      model.OrderNewest,
		Offset:     (page - 1) * pageSize,
		Limit:      pageSize,
		WithAuthor: true,
	}

	var (
		version   int64
		cacheable bool
	)
	if s.listing != nil {
		cached, v, err := s.listing.GetListing(ctx, query)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("listing cache read failed")
		case cached != nil:
			metrics.ListingCacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		default:
			version, cacheable = v, true
		}
		metrics.ListingCacheLookups.WithLabelValues("miss").Inc()
	}

	sessions, total, err := s.store.List(ctx, query)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	result := &model.SessionPage{
		Sessions: sessions,
		Pagination: model.Pagination{
			CurrentPage:   page,
			TotalPages:    int(math.Ceil(float64(total) / float64(pageSize))),
			TotalSessions: total,
		},
	}

	if cacheable {
		if err := s.listing.SetListing(ctx, query, version, result); err != nil {
			s.logger.Warn().Err(err).Msg("listing cache write failed")
		}
	}
	return result, nil
}

func (s *SessionService) clampPageSize(size int) int {
	if size <= 0 {
		size = s.pageSize.Default
	}
	if size > s.pageSize.Max {
		size = s.pageSize.Max
	}
	return size
}

// emit hands the event to the publisher. When there is no publisher, or it
// fails, the listing cache is invalidated in-line instead.
func (s *SessionService) emit(ctx context.Context, event model.SessionEvent) {
	event.OccurredAt = s.now().UTC()
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, event)
		if err == nil {
			return
		}
		s.logger.Warn().Err(err).
			Str("session_id", event.SessionID).
			Str("event", event.Type).
			Msg("publish session event failed")
	}
	if s.listing != nil && event.AffectsListing() {
		if err := s.listing.Invalidate(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("listing cache invalidation failed")
		}
	}
}

func normalizeContent(payload model.SessionContent) model.SessionContent {
	content := payload.Clone()
	content.Title = strings.TrimSpace(content.Title)
	content.Description = strings.TrimSpace(content.Description)
	content.JSONFileURL = strings.TrimSpace(content.JSONFileURL)
	content.Tags = normalizeTags(content.Tags)
	content.Category = strings.TrimSpace(strings.ToLower(content.Category))
	if content.Category == "" {
		content.Category = model.CategoryOther
	}
	content.Difficulty = strings.TrimSpace(strings.ToLower(content.Difficulty))
	if content.Difficulty == "" {
		content.Difficulty = model.DifficultyBeginner
	}
	return content
}

// normalizeTags lowercases and trims tags, dropping blanks and duplicates
// while keeping first-seen order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

func validateSave(ownerID uint, content model.SessionContent, status string) error {
	switch {
	case ownerID == 0:
		return fmt.Errorf("%w: owner is required", ErrInvalidInput)
	case !slices.Contains(model.Statuses, status):
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	case content.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case utf8.RuneCountInString(content.Title) > maxTitleLength:
		return fmt.Errorf("%w: title cannot exceed %d characters", ErrInvalidInput, maxTitleLength)
	case utf8.RuneCountInString(content.Description) > maxDescriptionLength:
		return fmt.Errorf("%w: description cannot exceed %d characters", ErrInvalidInput, maxDescriptionLength)
	case len(content.Tags) > maxTags:
		return fmt.Errorf("%w: at most %d tags are allowed", ErrInvalidInput, maxTags)
	case slices.ContainsFunc(content.Tags, func(tag string) bool { return utf8.RuneCountInString(tag) > maxTagLength }):
		return fmt.Errorf("%w: tags cannot exceed %d characters", ErrInvalidInput, maxTagLength)
	case content.Duration < 0:
		return fmt.Errorf("%w: duration must be a non-negative number of minutes", ErrInvalidInput)
	case !slices.Contains(model.Categories, content.Category):
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, content.Category)
	case !slices.Contains(model.Difficulties, content.Difficulty):
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidInput, content.Difficulty)
	}
	return nil
}
