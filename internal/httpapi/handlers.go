package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/festival-ballot/internal/engine"
	"github.com/DoyleJ11/festival-ballot/internal/hub"
	"github.com/DoyleJ11/festival-ballot/internal/session"
	"github.com/DoyleJ11/festival-ballot/internal/types"
)

type Config struct {
	Songs        engine.Catalog
	CountdownSec int
}

func (c Config) withDefaults() Config {
	if len(c.Songs) == 0 {
		c.Songs = engine.FestivalSongs
	}
	if c.CountdownSec <= 0 {
		c.CountdownSec = engine.DefaultCountdownSec
	}
	return c
}

type API struct {
	hub    *hub.Hub
	cfg    Config
	logger *zap.Logger
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ListSongs handles GET /songs
func (a *API) ListSongs(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, types.FromCatalog(a.cfg.Songs))
}

// CreateSession handles POST /sessions. The countdown starts now.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if err := parseJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	initial := engine.NewState(a.cfg.Songs, engine.Rules{CountdownSec: a.cfg.CountdownSec})
	if req.Name != "" {
		_, named, err := engine.Apply(initial, engine.Command{Type: engine.CmdSetName, Name: req.Name})
		if err != nil {
			a.fail(w, err)
			return
		}
		initial = named
	}

	s, err := a.hub.Create(r.Context(), initial)
	if err != nil {
		a.logger.Error("failed to create session", zap.Error(err))
		ErrorResponse(w, http.StatusServiceUnavailable, "Could not start session")
		return
	}

	view, err := s.View(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	JSONResponse(w, http.StatusCreated, sessionResponse(view.ID, view.Version, view.State))
}

// GetSession handles GET /sessions/{id}
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	view, err := s.View(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, sessionResponse(view.ID, view.Version, view.State))
}

// DeleteSession handles DELETE /sessions/{id}. Archived ballots stay.
func (a *API) DeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	if err := a.hub.Remove(r.Context(), s.ID()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetName handles PUT /sessions/{id}/name
func (a *API) SetName(w http.ResponseWriter, r *http.Request) {
	var req types.SetNameRequest
	if err := parseJSONBody(r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	a.apply(w, r, engine.Command{Type: engine.CmdSetName, Name: req.Name})
}

// AssignRank handles POST /sessions/{id}/ranks
func (a *API) AssignRank(w http.ResponseWriter, r *http.Request) {
	var req types.AssignRankRequest
	if err := parseJSONBody(r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	a.apply(w, r, engine.Command{Type: engine.CmdAssignRank, SongIndex: req.SongIndex, Rank: req.Rank})
}

// Submit handles POST /sessions/{id}/submit and returns the personal ranking.
func (a *API) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	out, err := s.Do(r.Context(), clientID(r), engine.Command{Type: engine.CmdSubmit})
	if err != nil {
		a.fail(w, err)
		return
	}

	personal, err := engine.PersonalRanking(out.Snapshot.State)
	if err != nil {
		a.logger.Error("submitted ballot violates rank uniqueness", zap.String("session_id", s.ID()), zap.Error(err))
	}
	JSONResponse(w, http.StatusOK, types.SubmitResponse{
		SessionID: s.ID(),
		Version:   out.Snapshot.Version,
		Personal:  types.FromPersonal(personal),
	})
}

// Results handles GET /sessions/{id}/results. Sealed until the ballot is in.
func (a *API) Results(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	res, err := s.Results(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, types.FromResults(res))
}

func (a *API) apply(w http.ResponseWriter, r *http.Request, cmd engine.Command) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	out, err := s.Do(r.Context(), clientID(r), cmd)
	if err != nil {
		a.fail(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, sessionResponse(s.ID(), out.Snapshot.Version, out.Snapshot.State))
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	s, err := a.hub.Get(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return nil, false
	}
	if s == nil {
		ErrorResponse(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return s, true
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
		ErrorResponse(w, status, "Internal error")
		return
	}
	ErrorResponse(w, status, err.Error())
}

// StatusFor maps engine and session errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrSongOutOfRange),
		errors.Is(err, engine.ErrRankOutOfRange),
		errors.Is(err, engine.ErrNameTooLong),
		errors.Is(err, engine.ErrUnsupportedCommand):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDuplicateRank),
		errors.Is(err, engine.ErrAlreadySubmitted),
		errors.Is(err, engine.ErrSubmissionAfterDeadline),
		errors.Is(err, engine.ErrVotingClosed):
		return http.StatusConflict
	case errors.Is(err, engine.ErrResultsSealed):
		return http.StatusForbidden
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func sessionResponse(id string, version int, s engine.State) types.SessionResponse {
	return types.SessionResponse{SessionID: id, Version: version, State: types.FromState(s)}
}

func clientID(r *http.Request) string {
	return "http:" + r.RemoteAddr
}

// JSONResponse writes a JSON response
func JSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	JSONResponse(w, statusCode, types.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

func parseJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
