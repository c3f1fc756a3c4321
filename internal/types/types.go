package types

import "github.com/DoyleJ11/festival-ballot/internal/engine"

// Client -> Server over the websocket.
type ClientMessage struct {
	Type      string `json:"type"` // "SetName" | "AssignRank" | "Submit"
	Name      string `json:"name,omitempty"`
	SongIndex int    `json:"song_index"`
	Rank      int    `json:"rank,omitempty"`
}

type ServerMessage struct {
	Type    string       `json:"type"` // "StateSnapshot" | "Error"
	Version int          `json:"version,omitempty"`
	State   *StateView   `json:"state,omitempty"`
	Error   string       `json:"error,omitempty"`
	Results *ResultsView `json:"results,omitempty"`
}

type StateView struct {
	Phase        engine.Phase `json:"phase"`
	Name         string       `json:"name"`
	Songs        []string     `json:"songs"`
	Ballot       []int        `json:"ballot"`
	Remaining    int          `json:"remaining_sec"`
	CountdownSec int          `json:"countdown_sec"`
	Submitted    bool         `json:"submitted"`
}

type RankedSongView struct {
	Index int    `json:"song_index"`
	Song  string `json:"song"`
	Rank  int    `json:"rank"`
}

type SongScoreView struct {
	Position int    `json:"position"`
	Index    int    `json:"song_index"`
	Song     string `json:"song"`
	Total    int    `json:"total"`
}

type ResultsView struct {
	Personal []RankedSongView `json:"personal"`
	Group    []SongScoreView  `json:"group,omitempty"`
	Ballots  int              `json:"ballot_count,omitempty"`
}

type SongView struct {
	Index int    `json:"song_index"`
	Title string `json:"title"`
}

// HTTP requests

type CreateSessionRequest struct {
	Name string `json:"name"`
}

type SetNameRequest struct {
	Name string `json:"name"`
}

type AssignRankRequest struct {
	SongIndex int `json:"song_index"`
	Rank      int `json:"rank"`
}

// HTTP responses

type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Version   int       `json:"version"`
	State     StateView `json:"state"`
}

type SubmitResponse struct {
	SessionID string           `json:"session_id"`
	Version   int              `json:"version"`
	Personal  []RankedSongView `json:"personal"`
}

type SongsResponse struct {
	Songs   []SongView `json:"songs"`
	MaxRank int        `json:"max_rank"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func FromState(s engine.State) StateView {
	return StateView{
		Phase:        s.Phase,
		Name:         s.Name,
		Songs:        append([]string{}, s.Songs...),
		Ballot:       append([]int{}, s.Ballot...),
		Remaining:    s.Remaining,
		CountdownSec: s.Rules.CountdownSec,
		Submitted:    s.Submitted,
	}
}

func FromPersonal(ranking []engine.RankedSong) []RankedSongView {
	out := make([]RankedSongView, len(ranking))
	for i, r := range ranking {
		out[i] = RankedSongView{Index: r.Index, Song: r.Song, Rank: r.Rank}
	}
	return out
}

func FromGroup(scores []engine.SongScore) []SongScoreView {
	out := make([]SongScoreView, len(scores))
	for i, s := range scores {
		out[i] = SongScoreView{Position: i + 1, Index: s.Index, Song: s.Song, Total: s.Total}
	}
	return out
}

func FromResults(r engine.Results) ResultsView {
	return ResultsView{
		Personal: FromPersonal(r.Personal),
		Group:    FromGroup(r.Group),
		Ballots:  r.Ballots,
	}
}

func FromCatalog(c engine.Catalog) SongsResponse {
	songs := make([]SongView, len(c))
	for i, title := range c {
		songs[i] = SongView{Index: i, Title: title}
	}
	return SongsResponse{Songs: songs, MaxRank: c.MaxRank()}
}

// ToCommand maps a websocket message onto an engine command.
func ToCommand(m ClientMessage) (engine.Command, bool) {
	switch m.Type {
	case "SetName":
		return engine.Command{Type: engine.CmdSetName, Name: m.Name}, true
	case "AssignRank":
		return engine.Command{Type: engine.CmdAssignRank, SongIndex: m.SongIndex, Rank: m.Rank}, true
	case "Submit":
		return engine.Command{Type: engine.CmdSubmit}, true
	default:
		return engine.Command{}, false
	}
}
