package client

import (
	"context"
	"sync"
	"time"

	"wellness-sessions/internal/autosave"
	"wellness-sessions/internal/model"
)

// SessionSaver is the part of Client the Editor drives.
type SessionSaver interface {
	SaveDraft(ctx context.Context, req SaveRequest) (*model.Session, error)
	Publish(ctx context.Context, req SaveRequest) (*model.Session, error)
}

type editorOptions struct {
	delay            time.Duration
	autoSaveExisting bool
	onAutoSave       func(*model.Session)
	onAutoSaveError  func(error)
	scheduler        []autosave.Option[model.SessionContent]
}

type EditorOption func(*editorOptions)

func WithAutoSaveDelay(d time.Duration) EditorOption {
	return func(o *editorOptions) { o.delay = d }
}

// WithAutoSaveExisting keeps auto-save on for sessions that have an id. By
// default only sessions not yet saved auto-save. Published sessions are never
// auto-saved either way.
func WithAutoSaveExisting() EditorOption {
	return func(o *editorOptions) { o.autoSaveExisting = true }
}

func WithOnAutoSave(fn func(*model.Session)) EditorOption {
	return func(o *editorOptions) { o.onAutoSave = fn }
}

func WithOnAutoSaveError(fn func(error)) EditorOption {
	return func(o *editorOptions) { o.onAutoSaveError = fn }
}

func WithSchedulerOptions(opts ...autosave.Option[model.SessionContent]) EditorOption {
	return func(o *editorOptions) { o.scheduler = append(o.scheduler, opts...) }
}

// Editor holds one session being written. Edits are auto-saved as drafts
// after a quiet period until the session has an id; the first successful save
// of a new session fixes that id so every later save updates the same record.
// Auto-save never turns a published session back into a draft.
type Editor struct {
	api       SessionSaver
	scheduler *autosave.Scheduler[model.SessionContent]
	opts      editorOptions

	// saveMu serialises background and explicit saves.
	saveMu sync.Mutex

	mu      sync.Mutex
	id      string
	content model.SessionContent
	status  string
}

// NewEditor starts an editor for a session that does not exist yet.
func NewEditor(api SessionSaver, opts ...EditorOption) *Editor {
	return newEditor(api, nil, opts)
}

// OpenEditor starts an editor on an existing session.
func OpenEditor(api SessionSaver, session *model.Session, opts ...EditorOption) *Editor {
	return newEditor(api, session, opts)
}

func newEditor(api SessionSaver, session *model.Session, opts []EditorOption) *Editor {
	o := editorOptions{delay: autosave.DefaultDelay}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Editor{
		api:    api,
		opts:   o,
		status: model.StatusDraft,
		content: model.SessionContent{
			Category:   model.CategoryOther,
			Difficulty: model.DifficultyBeginner,
		},
	}
	if session != nil {
		e.id = session.ID
		e.content = session.SessionContent.Clone()
		e.status = session.Status
	}

	schedOpts := []autosave.Option[model.SessionContent]{
		autosave.WithDelay[model.SessionContent](o.delay),
		autosave.WithCondition[model.SessionContent](func() bool {
			return e.ID() == "" || e.opts.autoSaveExisting
		}),
		autosave.WithOnError[model.SessionContent](func(err error) {
			if e.opts.onAutoSaveError != nil {
				e.opts.onAutoSaveError(err)
			}
		}),
	}
	e.scheduler = autosave.New(e.autoSave, append(schedOpts, o.scheduler...)...)
	return e
}

// Edit applies fn to the working copy and restarts the auto-save countdown.
func (e *Editor) Edit(fn func(*model.SessionContent)) {
	e.mu.Lock()
	fn(&e.content)
	snapshot := e.content.Clone()
	e.mu.Unlock()

	e.scheduler.OnEdit(snapshot)
}

func (e *Editor) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

func (e *Editor) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Editor) Content() model.SessionContent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content.Clone()
}

func (e *Editor) AutoSaveState() autosave.State {
	return e.scheduler.State()
}

// SaveDraft saves the working copy as a draft now. A pending auto-save is
// dropped, and one already running finishes first.
func (e *Editor) SaveDraft(ctx context.Context) (*model.Session, error) {
	return e.saveNow(ctx, model.StatusDraft)
}

// Publish saves the working copy with published status.
func (e *Editor) Publish(ctx context.Context) (*model.Session, error) {
	return e.saveNow(ctx, model.StatusPublished)
}

// Close stops auto-saving. Nothing edited after the last save is sent.
func (e *Editor) Close() {
	e.scheduler.Cancel()
}

func (e *Editor) saveNow(ctx context.Context, status string) (*model.Session, error) {
	e.scheduler.Suppress()

	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	return e.persist(ctx, e.Content(), status)
}

func (e *Editor) autoSave(ctx context.Context, snapshot model.SessionContent) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	if e.Status() == model.StatusPublished {
		return nil
	}
	saved, err := e.persist(ctx, snapshot, model.StatusDraft)
	if err != nil {
		return err
	}
	if e.opts.onAutoSave != nil {
		e.opts.onAutoSave(saved)
	}
	return nil
}

// persist must be called with saveMu held.
func (e *Editor) persist(ctx context.Context, content model.SessionContent, status string) (*model.Session, error) {
	req := SaveRequest{ID: e.ID(), SessionContent: content}

	var (
		saved *model.Session
		err   error
	)
	if status == model.StatusPublished {
		saved, err = e.api.Publish(ctx, req)
	} else {
		saved, err = e.api.SaveDraft(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.id == "" {
		e.id = saved.ID
	}
	e.status = saved.Status
	e.mu.Unlock()
	return saved, nil
}
