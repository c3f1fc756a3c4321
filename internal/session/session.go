package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/festival-ballot/internal/archive"
	"github.com/DoyleJ11/festival-ballot/internal/engine"
)

var ErrClosed = errors.New("session closed")

const archiveTimeout = 5 * time.Second

type Msg interface{ isSessionMsg() }

type FromClient struct {
	ClientID string
	Cmd      engine.Command
	Reply    chan Outcome // optional
}

func (FromClient) isSessionMsg() {}

// Join registers Outbox and sends it the current snapshot. The outbox must be
// buffered: one that cannot take that first snapshot is closed unregistered.
type Join struct {
	ClientID string
	Outbox   chan Snapshot
}

func (Join) isSessionMsg() {}

// Leave unregisters the client and closes its outbox.
type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type GetResults struct {
	Reply chan ResultsReply
}

func (GetResults) isSessionMsg() {}

type Snapshot struct {
	Version int
	State   engine.State
}

type View struct {
	ID         string
	Version    int
	NumClients int
	State      engine.State
}

type Outcome struct {
	Snapshot Snapshot
	Events   []engine.Event
	Err      error
}

type ResultsReply struct {
	Results engine.Results
	Err     error
}

type Options struct {
	// TickInterval is the length of one countdown second. Defaults to 1s.
	TickInterval time.Duration
	Archive      archive.Store
	Logger       *zap.Logger
	Now          func() time.Time
	// IdleTimeout ends a session whose ballot is settled (submitted or out
	// of time) once it has had no clients and no messages for this long.
	// Zero keeps it until closed.
	IdleTimeout time.Duration
}

// Session serializes every change to one voter's ballot and owns its
// countdown ticker.
type Session struct {
	id        string
	inbox     chan Msg
	state     engine.State
	version   int
	clients   map[string]chan Snapshot
	archive   archive.Store
	logger    *zap.Logger
	now       func() time.Time
	tickEvery time.Duration
	idleAfter time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(parent context.Context, id string, initial engine.State, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)

	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		id:        id,
		inbox:     make(chan Msg, 64), // Small buffer
		state:     initial,
		clients:   make(map[string]chan Snapshot),
		archive:   opts.Archive,
		logger:    opts.Logger.With(zap.String("session_id", id)),
		now:       opts.Now,
		tickEvery: opts.TickInterval,
		idleAfter: opts.IdleTimeout,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	tickC := ticker.C
	if s.state.Remaining <= 0 {
		ticker.Stop()
		tickC = nil
	}

	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()
	idleC := s.watchIdle(idle, nil, false)

	for {
		activity := false

		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-idleC:
			s.logger.Info("session idle, closing", zap.String("phase", string(s.state.Phase)))
			s.shutdown()
			return

		case <-tickC:
			events, next, _ := engine.Apply(s.state, engine.Command{Type: engine.CmdTick})
			if len(events) == 0 {
				break
			}
			s.commit(next)
			if engine.ContainsEvent(events, engine.EvtCountdownExpired) {
				// Disarm, nothing left to count.
				ticker.Stop()
				tickC = nil
				s.logger.Info("countdown expired", zap.Bool("submitted", s.state.Submitted))
			}

		case m := <-s.inbox:
			activity = true
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				select {
				case msg.Outbox <- s.snapshot():
					s.clients[msg.ClientID] = msg.Outbox
				default:
					s.logger.Warn("outbox refused first snapshot", zap.String("client_id", msg.ClientID))
					close(msg.Outbox)
				}

			case Leave:
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}

			case FromClient:
				s.handleCommand(msg)

			case GetState:
				send(msg.Reply, View{
					ID:         s.id,
					Version:    s.version,
					NumClients: len(s.clients),
					State:      s.state,
				})

			case GetResults:
				send(msg.Reply, s.results())

			case Shutdown:
				s.shutdown()
				return
			}
		}

		idleC = s.watchIdle(idle, idleC, activity)
	}
}

// watchIdle arms the idle timer while the ballot is settled and nobody is
// connected. Inbox traffic pushes the deadline back, ticks do not.
func (s *Session) watchIdle(t *time.Timer, c <-chan time.Time, activity bool) <-chan time.Time {
	if s.idleAfter <= 0 {
		return nil
	}
	settled := s.state.Submitted || s.state.Remaining <= 0
	if !settled || len(s.clients) > 0 {
		t.Stop()
		return nil
	}
	if c == nil || activity {
		t.Reset(s.idleAfter)
	}
	return t.C
}

func (s *Session) handleCommand(msg FromClient) {
	events, next, err := engine.Apply(s.state, msg.Cmd)
	if err != nil {
		s.logger.Debug("command rejected",
			zap.String("client_id", msg.ClientID),
			zap.String("command", string(msg.Cmd.Type)),
			zap.Error(err),
		)
		send(msg.Reply, Outcome{Snapshot: s.snapshot(), Err: err})
		return
	}

	for _, evt := range events {
		if evt.Type != engine.EvtBallotSubmitted {
			continue
		}
		if err := s.archiveBallot(evt); err != nil {
			// State stays pre-submit so the voter can retry.
			send(msg.Reply, Outcome{Snapshot: s.snapshot(), Err: err})
			return
		}
	}

	s.commit(next)
	send(msg.Reply, Outcome{Snapshot: s.snapshot(), Events: events})
}

func (s *Session) archiveBallot(evt engine.Event) error {
	if s.archive == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, archiveTimeout)
	defer cancel()

	entry := archive.Entry{
		ID:          uuid.NewString(),
		SessionID:   s.id,
		Voter:       evt.Name,
		Ranks:       evt.Ballot,
		SubmittedAt: s.now(),
	}
	err := s.archive.Append(ctx, entry)
	switch {
	case err == nil:
		s.logger.Info("ballot archived", zap.String("entry_id", entry.ID), zap.String("voter", entry.Voter))
		return nil
	case errors.Is(err, archive.ErrAlreadyArchived):
		s.logger.Warn("ballot was already archived")
		return nil
	default:
		s.logger.Error("archive append failed", zap.Error(err))
		return err
	}
}

func (s *Session) results() ResultsReply {
	if !s.state.Submitted {
		return ResultsReply{Err: engine.ErrResultsSealed}
	}

	var ballots []engine.Ballot
	if s.archive != nil {
		ctx, cancel := context.WithTimeout(s.ctx, archiveTimeout)
		defer cancel()
		entries, err := s.archive.List(ctx)
		if err != nil {
			return ResultsReply{Err: err}
		}
		ballots = archive.Ballots(entries)
	} else {
		ballots = []engine.Ballot{s.state.Ballot}
	}

	res, err := engine.BuildResults(s.state, ballots)
	if errors.Is(err, engine.ErrBallotSize) {
		s.logger.Warn("group ranking skipped ballots", zap.Error(err))
		err = nil
	}
	return ResultsReply{Results: res, Err: err}
}

func (s *Session) commit(next engine.State) {
	s.state = next
	s.version++
	s.broadcast(s.snapshot())
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{Version: s.version, State: s.state}
}

func (s *Session) shutdown() {
	for id, ch := range s.clients {
		close(ch) // Tell client no more snapshots
		delete(s.clients, id)
	}
	s.cancel()
}

func (s *Session) broadcast(snap Snapshot) {
	for id, ch := range s.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func send[T any](ch chan T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

func (s *Session) ID() string { return s.id }

// Expose the inbox so tests or WS layer can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the session loop has exited and its ticker is released.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Close() {
	s.cancel()
}

func (s *Session) post(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, s *Session, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do applies cmd and waits for the outcome. Rejections come back as the
// returned error together with the unchanged snapshot.
func (s *Session) Do(ctx context.Context, clientID string, cmd engine.Command) (Outcome, error) {
	reply := make(chan Outcome, 1)
	if err := s.post(ctx, FromClient{ClientID: clientID, Cmd: cmd, Reply: reply}); err != nil {
		return Outcome{}, err
	}
	out, err := await(ctx, s, reply)
	if err != nil {
		return Outcome{}, err
	}
	return out, out.Err
}

func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.post(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, s, reply)
}

func (s *Session) Results(ctx context.Context) (engine.Results, error) {
	reply := make(chan ResultsReply, 1)
	if err := s.post(ctx, GetResults{Reply: reply}); err != nil {
		return engine.Results{}, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return engine.Results{}, err
	}
	return r.Results, r.Err
}

func (s *Session) Join(ctx context.Context, clientID string, outbox chan Snapshot) error {
	return s.post(ctx, Join{ClientID: clientID, Outbox: outbox})
}

func (s *Session) Leave(ctx context.Context, clientID string) error {
	return s.post(ctx, Leave{ClientID: clientID})
}
