package engine

import (
	"errors"
	"fmt"
	"slices"
)

var ErrRankTie = errors.New("two songs share a rank")
var ErrResultsSealed = errors.New("results sealed until ballot is submitted")
var ErrBallotSize = errors.New("ballot does not match catalog")

type RankedSong struct {
	Index int
	Song  string
	Rank  int
}

type SongScore struct {
	Index int
	Song  string
	Total int
}

// PersonalRanking lists the ranked songs of s, strongest preference first.
// Ties cannot happen on a valid ballot and are reported as ErrRankTie.
func PersonalRanking(s State) ([]RankedSong, error) {
	out := make([]RankedSong, 0, len(s.Ballot))
	for i, rank := range s.Ballot {
		if rank <= 0 {
			continue
		}
		song, _ := s.Songs.Song(i)
		out = append(out, RankedSong{Index: i, Song: song, Rank: rank})
	}

	slices.SortStableFunc(out, func(a, b RankedSong) int {
		return b.Rank - a.Rank
	})

	for i := 1; i < len(out); i++ {
		if out[i].Rank == out[i-1].Rank {
			return out, fmt.Errorf("%w: %q and %q hold %d", ErrRankTie, out[i-1].Song, out[i].Song, out[i].Rank)
		}
	}
	return out, nil
}

// GroupRanking totals every song over ballots. Songs nobody ranked stay in
// the list with a zero total, and equal totals keep catalog order. Ballots
// of the wrong size are skipped; the returned error lists how many.
func GroupRanking(songs Catalog, ballots []Ballot) ([]SongScore, error) {
	scores := make([]SongScore, len(songs))
	for i, song := range songs {
		scores[i] = SongScore{Index: i, Song: song}
	}

	skipped := 0
	for _, ballot := range ballots {
		if len(ballot) != len(songs) {
			skipped++
			continue
		}
		for i, rank := range ballot {
			if rank > 0 {
				scores[i].Total += rank
			}
		}
	}

	slices.SortStableFunc(scores, func(a, b SongScore) int {
		return b.Total - a.Total
	})

	if skipped > 0 {
		return scores, fmt.Errorf("%w: skipped %d ballot(s)", ErrBallotSize, skipped)
	}
	return scores, nil
}

// Results is what a voter sees once the ballot is in.
type Results struct {
	Personal []RankedSong
	Group    []SongScore
	Ballots  int
}

// BuildResults is sealed until s is submitted. An ErrBallotSize error comes
// back together with usable results.
func BuildResults(s State, archived []Ballot) (Results, error) {
	if !s.Submitted {
		return Results{}, ErrResultsSealed
	}
	personal, err := PersonalRanking(s)
	if err != nil {
		return Results{}, err
	}
	group, err := GroupRanking(s.Songs, archived)
	return Results{Personal: personal, Group: group, Ballots: len(archived)}, err
}
