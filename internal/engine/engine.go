package engine

import (
	"errors"
	"slices"
	"strings"
	"unicode/utf8"
)

var ErrDuplicateRank = errors.New("rank already assigned to another song")
var ErrSubmissionAfterDeadline = errors.New("submission after deadline")
var ErrAlreadySubmitted = errors.New("ballot already submitted")
var ErrVotingClosed = errors.New("voting window closed")
var ErrSongOutOfRange = errors.New("song index out of range")
var ErrRankOutOfRange = errors.New("rank out of range")
var ErrNameTooLong = errors.New("name too long")
var ErrUnsupportedCommand = errors.New("unsupported command")

const MaxNameLength = 64

type Phase string

const (
	PhaseVoting    Phase = "voting"
	PhaseSubmitted Phase = "submitted"
	PhaseExpired   Phase = "expired"
)

// Ballot holds one rank per catalog position; 0 means unranked.
type Ballot []int

func (b Ballot) Clone() Ballot {
	return slices.Clone(b)
}

// Holder returns the song index holding rank, or -1.
func (b Ballot) Holder(rank int) int {
	return slices.Index(b, rank)
}

type State struct {
	Phase     Phase
	Name      string
	Songs     Catalog
	Ballot    Ballot
	Remaining int
	Submitted bool
	Rules     Rules
}

type Rules struct {
	CountdownSec int
}

type CommandType string

const (
	CmdSetName    CommandType = "SetName"
	CmdAssignRank CommandType = "AssignRank"
	CmdSubmit     CommandType = "Submit"
	CmdTick       CommandType = "Tick"
)

/*
	CmdSetName    -> EvtNameChanged
	CmdAssignRank -> EvtRankAssigned
	CmdSubmit     -> EvtBallotSubmitted (ballot copy travels with the event, the session archives it)
	CmdTick       -> EvtCountdownTicked -> EvtCountdownExpired on the last second
*/

type Command struct {
	Type      CommandType
	Name      string
	SongIndex int
	Rank      int
}

type EventType string

const (
	EvtNameChanged      EventType = "NameChanged"
	EvtRankAssigned     EventType = "RankAssigned"
	EvtBallotSubmitted  EventType = "BallotSubmitted"
	EvtCountdownTicked  EventType = "CountdownTicked"
	EvtCountdownExpired EventType = "CountdownExpired"
)

type Event struct {
	Type      EventType
	Name      string
	SongIndex int
	Rank      int
	Remaining int
	Ballot    Ballot
}

// Apply validates cmd against s. On error the input state is returned as is.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s

	switch cmd.Type {
	case CmdSetName:
		if s.Submitted {
			return nil, s, ErrAlreadySubmitted
		}
		name := strings.TrimSpace(cmd.Name)
		if utf8.RuneCountInString(name) > MaxNameLength {
			return nil, s, ErrNameTooLong
		}
		newState.Name = name
		return []Event{{Type: EvtNameChanged, Name: name}}, newState, nil

	case CmdAssignRank:
		if err := canAssign(s, cmd.SongIndex, cmd.Rank); err != nil {
			return nil, s, err
		}
		// Same value on the same song: nothing to change.
		if s.Ballot[cmd.SongIndex] == cmd.Rank {
			return nil, s, nil
		}

		// Copy before writing, callers may still hold the old ballot.
		newState.Ballot = s.Ballot.Clone()
		newState.Ballot[cmd.SongIndex] = cmd.Rank
		return []Event{{Type: EvtRankAssigned, SongIndex: cmd.SongIndex, Rank: cmd.Rank}}, newState, nil

	case CmdSubmit:
		if s.Submitted {
			return nil, s, ErrAlreadySubmitted
		}
		if s.Remaining <= 0 {
			return nil, s, ErrSubmissionAfterDeadline
		}

		newState.Submitted = true
		newState.Phase = DerivePhase(newState)
		return []Event{{Type: EvtBallotSubmitted, Name: s.Name, Ballot: s.Ballot.Clone()}}, newState, nil

	case CmdTick:
		return tick(s)

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Tick is the timer reducer. At zero it is a no-op.
func Tick(s State) State {
	_, next, _ := tick(s)
	return next
}

func tick(s State) ([]Event, State, error) {
	if s.Remaining <= 0 {
		return nil, s, nil
	}

	newState := s
	newState.Remaining--
	events := []Event{{Type: EvtCountdownTicked, Remaining: newState.Remaining}}
	if newState.Remaining == 0 {
		events = append(events, Event{Type: EvtCountdownExpired})
	}
	newState.Phase = DerivePhase(newState)
	return events, newState, nil
}

// Reduce rebuilds a state from an event log on top of initial.
func Reduce(initial State, events []Event) State {
	s := initial
	s.Ballot = initial.Ballot.Clone()
	for _, event := range events {
		switch event.Type {
		case EvtNameChanged:
			s.Name = event.Name
		case EvtRankAssigned:
			s.Ballot[event.SongIndex] = event.Rank
		case EvtBallotSubmitted:
			s.Submitted = true
		case EvtCountdownTicked:
			s.Remaining = event.Remaining
		case EvtCountdownExpired:
			s.Remaining = 0
		}
	}

	s.Phase = DerivePhase(s)
	return s
}

func canAssign(s State, songIndex, rank int) error {
	if s.Submitted {
		return ErrAlreadySubmitted
	}
	if s.Remaining <= 0 {
		return ErrVotingClosed
	}
	if songIndex < 0 || songIndex >= len(s.Ballot) {
		return ErrSongOutOfRange
	}
	if rank < 1 || rank > len(s.Ballot) {
		return ErrRankOutOfRange
	}
	if holder := s.Ballot.Holder(rank); holder >= 0 && holder != songIndex {
		return ErrDuplicateRank
	}
	return nil
}

// CanAssign reports whether rank is still free for the song at songIndex.
// Rendering layers use it to disable rank buttons.
func CanAssign(s State, songIndex, rank int) bool {
	return canAssign(s, songIndex, rank) == nil
}

// CanSubmit mirrors the submit guard without applying it.
func CanSubmit(s State) bool {
	return !s.Submitted && s.Remaining > 0
}
