// Package archive keeps every submitted ballot so group results can be
// computed across sessions. Entries are append-only.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/festival-ballot/internal/engine"
)

var ErrAlreadyArchived = errors.New("ballot already archived for session")

type Entry struct {
	ID          string
	SessionID   string
	Voter       string
	Ranks       engine.Ballot
	SubmittedAt time.Time
}

type Store interface {
	// Append stores a copy of e. A second entry for the same session
	// fails with ErrAlreadyArchived.
	Append(ctx context.Context, e Entry) error
	// List returns entries in insertion order.
	List(ctx context.Context) ([]Entry, error)
	Count(ctx context.Context) (int, error)
}

func Ballots(entries []Entry) []engine.Ballot {
	out := make([]engine.Ballot, len(entries))
	for i, e := range entries {
		out[i] = e.Ranks
	}
	return out
}
