package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/festival-ballot/internal/archive"
	"github.com/DoyleJ11/festival-ballot/internal/engine"
	"github.com/DoyleJ11/festival-ballot/internal/session"
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	State engine.State
	Reply chan *session.Session
}

type GetSession struct {
	ID    string
	Reply chan *session.Session
}

type RemoveSession struct {
	ID string
}

type CountSessions struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (CountSessions) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

// DefaultIdleTimeout applies when Options.IdleTimeout is zero.
const DefaultIdleTimeout = 10 * time.Minute

type Options struct {
	Archive      archive.Store
	TickInterval time.Duration
	Logger       *zap.Logger
	// IdleTimeout is how long a settled session with no clients lives on.
	// Negative keeps sessions until removed.
	IdleTimeout time.Duration
}

// Hub is the registry of live voting sessions. All sessions share one
// ballot archive.
type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	opts     Options
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				id := uuid.NewString()
				s := session.New(h.ctx, id, msg.State, session.Options{
					TickInterval: h.opts.TickInterval,
					Archive:      h.opts.Archive,
					Logger:       h.logger,
					IdleTimeout:  max(h.opts.IdleTimeout, 0),
				})
				h.sessions[id] = s
				go h.watch(s)
				h.logger.Info("session created", zap.String("session_id", id), zap.Int("sessions", len(h.sessions)))
				msg.Reply <- s

			case GetSession:
				msg.Reply <- h.sessions[msg.ID] // May be nil

			case RemoveSession:
				if s := h.sessions[msg.ID]; s != nil {
					s.Close()
					delete(h.sessions, msg.ID)
					h.logger.Info("session removed", zap.String("session_id", msg.ID))
				}

			case CountSessions:
				msg.Reply <- len(h.sessions)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// watch drops a session from the registry once its loop has ended on its own.
func (h *Hub) watch(s *session.Session) {
	select {
	case <-s.Done():
		_ = h.request(context.Background(), RemoveSession{ID: s.ID()})
	case <-h.done:
	}
}

func (h *Hub) shutdown() {
	for _, s := range h.sessions {
		s.Close()
	}
	clear(h.sessions)
	h.cancel()
}

func (h *Hub) request(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return session.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func reply[T any](ctx context.Context, h *Hub, ch chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-h.done:
		return zero, session.ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (h *Hub) Create(ctx context.Context, initial engine.State) (*session.Session, error) {
	ch := make(chan *session.Session, 1)
	if err := h.request(ctx, CreateSession{State: initial, Reply: ch}); err != nil {
		return nil, err
	}
	return reply(ctx, h, ch)
}

// Get returns nil when no session has that id.
func (h *Hub) Get(ctx context.Context, id string) (*session.Session, error) {
	ch := make(chan *session.Session, 1)
	if err := h.request(ctx, GetSession{ID: id, Reply: ch}); err != nil {
		return nil, err
	}
	return reply(ctx, h, ch)
}

func (h *Hub) Remove(ctx context.Context, id string) error {
	return h.request(ctx, RemoveSession{ID: id})
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	ch := make(chan int, 1)
	if err := h.request(ctx, CountSessions{Reply: ch}); err != nil {
		return 0, err
	}
	return reply(ctx, h, ch)
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}
