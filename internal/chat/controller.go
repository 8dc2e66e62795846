package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/strrl/mathchat/internal/stream"
	"github.com/strrl/mathchat/pkg/models"
)

var (
	// ErrBusy is returned for intents issued while a reply is streaming
	ErrBusy = errors.New("a reply or history load is in progress")
	// ErrEmptyMessage is returned when submitting blank text
	ErrEmptyMessage = errors.New("message is empty")
)

// Backend is the remote chat service
type Backend interface {
	ListSessions(ctx context.Context) ([]models.ChatSessionRef, error)
	FetchMessages(ctx context.Context, chatID int64) ([]models.ChatMessage, error)
	SendChat(ctx context.Context, chatID *int64, message string, obs stream.Observer) (stream.Result, error)
}

// Surface displays states. Render is called with the controller lock held
// and must not call back into the controller.
type Surface interface {
	Render(State)
}

// SurfaceFunc adapts a plain function to Surface
type SurfaceFunc func(State)

// Render calls f(s)
func (f SurfaceFunc) Render(s State) { f(s) }

// Controller applies user intents to a State and pushes every new State to
// its Surface. Its methods may be called from any goroutine.
type Controller struct {
	backend Backend
	surface Surface
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithClock replaces time.Now for message timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller with an empty State
func NewController(backend Backend, surface Surface, opts ...Option) *Controller {
	if surface == nil {
		surface = SurfaceFunc(func(State) {})
	}
	c := &Controller{
		backend: backend,
		surface: surface,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) update(fn func(State) State) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = fn(c.state)
	c.surface.Render(c.state)
	return c.state
}

// Refresh reloads the session list
func (c *Controller) Refresh(ctx context.Context) error {
	sessions, err := c.backend.ListSessions(ctx)
	if err != nil {
		c.logger.Error("Error fetching chat sessions", "error", err)
		c.update(func(s State) State { return s.ReportError(err) })
		return err
	}
	c.update(func(s State) State { return s.SessionsLoaded(sessions) })
	return nil
}

// SelectSession pins id and loads its history
func (c *Controller) SelectSession(ctx context.Context, id int64) error {
	c.mu.Lock()
	if c.state.Loading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = c.state.SelectSession(id)
	c.surface.Render(c.state)
	c.mu.Unlock()

	messages, err := c.backend.FetchMessages(ctx, id)
	if err != nil {
		c.logger.Error("Error fetching messages", "chat_id", id, "error", err)
		c.update(func(s State) State { return s.HistoryFailed(id, err) })
		return err
	}
	c.update(func(s State) State { return s.HistoryLoaded(id, messages) })
	return nil
}

// NewChat clears the transcript so the next message starts a new session
func (c *Controller) NewChat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Loading {
		return ErrBusy
	}
	c.state = c.state.StartNewChat()
	c.surface.Render(c.state)
	return nil
}

// Submit sends text to the pinned session and streams the reply into the
// transcript. It blocks until the reply is complete. Failures leave the
// partial transcript in place.
func (c *Controller) Submit(ctx context.Context, text string) error {
	c.mu.Lock()
	next, ok := c.state.BeginSend(text, c.now())
	if !ok {
		busy := c.state.Busy()
		c.mu.Unlock()
		if busy {
			return ErrBusy
		}
		return ErrEmptyMessage
	}
	c.state = next
	c.surface.Render(c.state)
	var chatID *int64
	if next.CurrentChatID != nil {
		id := *next.CurrentChatID
		chatID = &id
	}
	c.mu.Unlock()

	ex := &exchange{c: c}
	res, err := c.backend.SendChat(ctx, chatID, text, ex)
	if err != nil {
		c.logger.Error("Error sending message", "error", err, "fragments", res.Fragments)
		c.update(func(s State) State { return s.Failed(err) })
		return err
	}

	c.update(func(s State) State { return s.SendFinished(res) })
	if res.Raw != "" && res.ChatID != nil {
		// The list may now include the session this exchange created.
		// A failed refresh is already logged and recorded in the state.
		_ = c.Refresh(ctx)
	}
	return nil
}

// exchange feeds one streamed reply into the controller
type exchange struct {
	c       *Controller
	started bool
}

func (e *exchange) OnStart() {
	if e.started {
		return
	}
	e.started = true
	e.c.update(func(s State) State { return s.BotStarted(e.c.now()) })
}

func (e *exchange) OnSnapshot(text string) {
	e.OnStart()
	e.c.update(func(s State) State { return s.ApplySnapshot(text) })
}
