package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/festival-ballot/internal/archive"
	"github.com/DoyleJ11/festival-ballot/internal/archive/memory"
	"github.com/DoyleJ11/festival-ballot/internal/engine"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

// An hour-long tick keeps the countdown out of the way.
func newQuietSession(t *testing.T, store archive.Store) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, "s1", engine.NewEmptyState(), Options{TickInterval: time.Hour, Archive: store})
}

type failingStore struct {
	archive.Store
}

func (failingStore) Append(context.Context, archive.Entry) error {
	return errors.New("disk full")
}

func TestSession_AssignRank_BroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	s := newQuietSession(t, memory.NewStore())

	clientOut := make(chan Snapshot, 2) // small buffer so broadcast doesn’t block
	s.Inbox() <- Join{ClientID: "c1", Outbox: clientOut}

	first := recvSnapshot(t, clientOut, 100*time.Millisecond)
	if first.Version != 0 {
		t.Fatalf("after join: want version=0, got %d", first.Version)
	}

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdAssignRank, SongIndex: 0, Rank: 5}}

	next := recvSnapshot(t, clientOut, 100*time.Millisecond)
	if next.Version != 1 {
		t.Fatalf("after assign: want version=1, got %d", next.Version)
	}
	if next.State.Ballot[0] != 5 {
		t.Fatalf("after assign: expected rank 5 on song 0, got %+v", next.State.Ballot)
	}

	s.Inbox() <- Shutdown{}
}

func TestSession_RejectedCommandKeepsVersion(t *testing.T) {
	s := newQuietSession(t, memory.NewStore())
	ctx := context.Background()

	_, err := s.Do(ctx, "c1", engine.Command{Type: engine.CmdAssignRank, SongIndex: 0, Rank: 5})
	require.NoError(t, err)

	out, err := s.Do(ctx, "c1", engine.Command{Type: engine.CmdAssignRank, SongIndex: 1, Rank: 5})
	require.ErrorIs(t, err, engine.ErrDuplicateRank)
	assert.Equal(t, 1, out.Snapshot.Version)
	assert.Equal(t, 0, out.Snapshot.State.Ballot[1])
}

func TestSession_DoubleSubmitArchivesOnce(t *testing.T) {
	store := memory.NewStore()
	s := newQuietSession(t, store)
	ctx := context.Background()

	_, err := s.Do(ctx, "c1", engine.Command{Type: engine.CmdSetName, Name: "Rita"})
	require.NoError(t, err)
	_, err = s.Do(ctx, "c1", engine.Command{Type: engine.CmdAssignRank, SongIndex: 3, Rank: 12})
	require.NoError(t, err)

	out, err := s.Do(ctx, "c1", engine.Command{Type: engine.CmdSubmit})
	require.NoError(t, err)
	assert.True(t, out.Snapshot.State.Submitted)

	_, err = s.Do(ctx, "c1", engine.Command{Type: engine.CmdSubmit})
	require.ErrorIs(t, err, engine.ErrAlreadySubmitted)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, "Rita", entries[0].Voter)
	assert.Equal(t, 12, entries[0].Ranks[3])
}

func TestSession_ArchiveFailureRollsBack(t *testing.T) {
	s := newQuietSession(t, failingStore{Store: memory.NewStore()})
	ctx := context.Background()

	out, err := s.Do(ctx, "c1", engine.Command{Type: engine.CmdSubmit})
	require.Error(t, err)
	assert.False(t, out.Snapshot.State.Submitted)

	view, err := s.View(ctx)
	require.NoError(t, err)
	assert.False(t, view.State.Submitted)
	assert.Equal(t, 0, view.Version)
}

func TestSession_ResultsSealedUntilSubmit(t *testing.T) {
	store := memory.NewStore(archive.Entry{
		ID:        "earlier",
		SessionID: "other",
		Ranks:     engine.Ballot{0, 12, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	})
	s := newQuietSession(t, store)
	ctx := context.Background()

	_, err := s.Results(ctx)
	require.ErrorIs(t, err, engine.ErrResultsSealed)

	_, err = s.Do(ctx, "c1", engine.Command{Type: engine.CmdAssignRank, SongIndex: 1, Rank: 3})
	require.NoError(t, err)
	_, err = s.Do(ctx, "c1", engine.Command{Type: engine.CmdSubmit})
	require.NoError(t, err)

	res, err := s.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ballots)
	assert.Equal(t, 1, res.Group[0].Index)
	assert.Equal(t, 15, res.Group[0].Total)
	require.Len(t, res.Personal, 1)
	assert.Equal(t, 3, res.Personal[0].Rank)
}

func TestSession_DropSlowClient(t *testing.T) {
	s := newQuietSession(t, nil)

	clientOut := make(chan Snapshot, 1)
	s.Inbox() <- Join{ClientID: "c1", Outbox: clientOut}

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdAssignRank, SongIndex: 0, Rank: 1}}

	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestSession_CountdownTicksToZeroThenStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initial := engine.NewState(engine.FestivalSongs, engine.Rules{CountdownSec: 2})
	s := New(ctx, "s1", initial, Options{TickInterval: 20 * time.Millisecond})

	out := make(chan Snapshot, 4)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond) // version 0

	one := recvSnapshot(t, out, 500*time.Millisecond)
	assert.Equal(t, 1, one.State.Remaining)

	zero := recvSnapshot(t, out, 500*time.Millisecond)
	assert.Equal(t, 0, zero.State.Remaining)
	assert.Equal(t, engine.PhaseExpired, zero.State.Phase)

	// Ticker is disarmed: nothing more arrives.
	recvNoSnapshot(t, out, 150*time.Millisecond)

	_, err := s.Do(context.Background(), "c1", engine.Command{Type: engine.CmdSubmit})
	assert.ErrorIs(t, err, engine.ErrSubmissionAfterDeadline)
}

func TestSession_Shutdown_StopsTimer_NoFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initial := engine.NewState(engine.FestivalSongs, engine.Rules{CountdownSec: 10})
	s := New(ctx, "s1", initial, Options{TickInterval: 200 * time.Millisecond})

	out := make(chan Snapshot, 2)
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 500*time.Millisecond) // drain join snapshot

	s.Inbox() <- Shutdown{}

	select {
	case <-s.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("session loop did not exit")
	}

	// Now assert no *new* snapshot shows up (or channel is closed)
	recvNoSnapshot(t, out, 300*time.Millisecond)

	_, err := s.View(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_ParentCancelEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, "s1", engine.NewEmptyState(), Options{TickInterval: time.Hour})

	cancel()

	select {
	case <-s.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("session loop did not exit after parent cancel")
	}
}

func TestSession_JoinWithUnbufferedOutboxDoesNotStall(t *testing.T) {
	s := newQuietSession(t, nil)
	ctx := context.Background()

	out := make(chan Snapshot)
	require.NoError(t, s.Join(ctx, "c1", out))

	view, err := s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, view.NumClients)

	_, ok := <-out
	assert.False(t, ok, "refused outbox should be closed")
}

func TestSession_LeaveClosesOutbox(t *testing.T) {
	s := newQuietSession(t, nil)
	ctx := context.Background()

	out := make(chan Snapshot, 2)
	require.NoError(t, s.Join(ctx, "c1", out))
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	require.NoError(t, s.Leave(ctx, "c1"))

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("outbox still open after leave")
	}
}

func newIdleSession(t *testing.T, idle time.Duration) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, "s1", engine.NewEmptyState(), Options{
		TickInterval: time.Hour,
		Archive:      memory.NewStore(),
		IdleTimeout:  idle,
	})
}

func TestSession_SubmittedAndIdleEnds(t *testing.T) {
	s := newIdleSession(t, 30*time.Millisecond)

	_, err := s.Do(context.Background(), "c1", engine.Command{Type: engine.CmdSubmit})
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("settled session never went idle")
	}
}

func TestSession_VotingSessionIsNotReaped(t *testing.T) {
	s := newIdleSession(t, 20*time.Millisecond)

	select {
	case <-s.Done():
		t.Fatalf("session still voting was closed")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSession_ConnectedClientKeepsSettledSessionAlive(t *testing.T) {
	s := newIdleSession(t, 30*time.Millisecond)
	ctx := context.Background()

	out := make(chan Snapshot, 4)
	require.NoError(t, s.Join(ctx, "c1", out))
	_, err := s.Do(ctx, "c1", engine.Command{Type: engine.CmdSubmit})
	require.NoError(t, err)

	select {
	case <-s.Done():
		t.Fatalf("session closed under a connected client")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, s.Leave(ctx, "c1"))
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("session never went idle after the client left")
	}
}

func TestSession_ExpiredWithoutSubmitEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initial := engine.NewState(engine.FestivalSongs, engine.Rules{CountdownSec: 1})
	s := New(ctx, "s1", initial, Options{TickInterval: 10 * time.Millisecond, IdleTimeout: 30 * time.Millisecond})

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("expired session never went idle")
	}
}
