package engine

const DefaultCountdownSec = 300

func NewEmptyState() State {
	return NewState(FestivalSongs, Rules{CountdownSec: DefaultCountdownSec})
}

func NewState(songs Catalog, rules Rules) State {
	if rules.CountdownSec <= 0 {
		rules.CountdownSec = DefaultCountdownSec
	}
	s := State{
		Songs:     songs,
		Ballot:    make(Ballot, len(songs)),
		Remaining: rules.CountdownSec,
		Rules:     rules,
	}
	s.Phase = DerivePhase(s)
	return s
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func DerivePhase(s State) Phase {
	if s.Submitted {
		return PhaseSubmitted
	} else if s.Remaining <= 0 {
		return PhaseExpired
	}
	return PhaseVoting
}
