package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/history"
	"github.com/tokligence/chatstream/internal/stream"
)

type sessionEndpoint struct {
	server *Server
}

func newSessionEndpoint(server *Server) Endpoint {
	if server.history == nil {
		return nil
	}
	return &sessionEndpoint{server: server}
}

func (e *sessionEndpoint) Name() string { return "sessions" }

func (e *sessionEndpoint) Routes() []EndpointRoute {
	return []EndpointRoute{
		{Method: http.MethodGet, Path: "/sessions", Handler: http.HandlerFunc(e.handleList)},
		{Method: http.MethodPost, Path: "/add_session", Handler: http.HandlerFunc(e.handleAdd)},
		{Method: http.MethodPost, Path: "/remove_session", Handler: http.HandlerFunc(e.handleRemove)},
		{Method: http.MethodPost, Path: "/update_model_preset", Handler: e.update(applyModelPreset)},
		{Method: http.MethodPost, Path: "/update_summarization_enable", Handler: e.update(applySummarizationEnable)},
		{Method: http.MethodPost, Path: "/update_session_settings", Handler: e.update(applySessionSettings)},
		{Method: http.MethodPost, Path: "/update_title", Handler: e.update(applyTitle)},
		{Method: http.MethodGet, Path: "/list_models", Handler: http.HandlerFunc(e.handleListModels)},
	}
}

// sessionsOrDefault lists sessions, creating the default one on an empty store.
func (e *sessionEndpoint) sessionsOrDefault(r *http.Request) ([]history.Session, error) {
	ctx := r.Context()
	sessions, err := e.server.history.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		return sessions, nil
	}
	created, err := e.server.history.CreateSession(ctx, history.DefaultSession(uuid.NewString()))
	if err != nil {
		return nil, err
	}
	return []history.Session{created}, nil
}

func (e *sessionEndpoint) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := e.sessionsOrDefault(r)
	if err != nil {
		e.server.respondError(w, http.StatusInternalServerError, err)
		return
	}
	e.server.respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (e *sessionEndpoint) handleAdd(w http.ResponseWriter, r *http.Request) {
	created, err := e.server.history.CreateSession(r.Context(), history.DefaultSession(uuid.NewString()))
	if err != nil {
		e.server.respondError(w, http.StatusInternalServerError, err)
		return
	}
	e.server.debugf("session created id=%s", created.SessionID)
	e.server.respondJSON(w, http.StatusOK, created)
}

func (e *sessionEndpoint) handleRemove(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := e.sessionID(w, r)
	if !ok {
		return
	}
	err := e.server.history.DeleteSession(r.Context(), sessionID)
	switch {
	case errors.Is(err, history.ErrSessionNotFound):
		e.server.respondError(w, http.StatusNotFound, err)
		return
	case err != nil:
		e.server.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if e.server.materializer != nil {
		if err := e.server.materializer.Purge(sessionID); err != nil {
			e.server.logger.Printf("remove attachments session=%s: %v", sessionID, err)
		}
	}
	for _, purge := range e.server.sessionPurgers {
		purge(sessionID)
	}
	sessions, err := e.sessionsOrDefault(r)
	if err != nil {
		e.server.respondError(w, http.StatusInternalServerError, err)
		return
	}
	e.server.respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (e *sessionEndpoint) handleListModels(w http.ResponseWriter, _ *http.Request) {
	e.server.respondJSON(w, http.StatusOK, e.server.catalog.Available(e.server.vendors))
}

// sessionMutator decodes its own payload from raw and applies it to s.
type sessionMutator func(raw []byte, s *history.Session) error

// update loads the session named by X-Session-ID, applies fn and saves it.
func (e *sessionEndpoint) update(fn sessionMutator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := e.sessionID(w, r)
		if !ok {
			return
		}
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			e.server.respondError(w, http.StatusBadRequest, errors.New("invalid JSON payload"))
			return
		}
		sess, err := e.server.history.GetSession(r.Context(), sessionID)
		switch {
		case errors.Is(err, history.ErrSessionNotFound):
			e.server.respondError(w, http.StatusNotFound, err)
			return
		case err != nil:
			e.server.respondError(w, http.StatusInternalServerError, err)
			return
		}
		if err := fn(raw, &sess); err != nil {
			e.server.respondError(w, http.StatusBadRequest, err)
			return
		}
		if err := e.server.history.UpdateSession(r.Context(), sess); err != nil {
			e.server.respondError(w, http.StatusInternalServerError, err)
			return
		}
		e.server.respondJSON(w, http.StatusOK, sess)
	})
}

func (e *sessionEndpoint) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(stream.SessionHeader))
	if id == "" {
		e.server.respondError(w, http.StatusBadRequest, chat.ErrMissingSessionID)
		return "", false
	}
	return id, true
}

func applyModelPreset(raw []byte, s *history.Session) error {
	var req struct {
		ModelPreset1      *string `json:"model_preset1"`
		ModelPreset2      *string `json:"model_preset2"`
		SelectedPresetIdx int     `json:"selected_preset_idx"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.New("invalid JSON payload")
	}
	if req.ModelPreset1 != nil {
		s.ModelPreset1 = *req.ModelPreset1
	}
	if req.ModelPreset2 != nil {
		s.ModelPreset2 = *req.ModelPreset2
	}
	switch req.SelectedPresetIdx {
	case 1:
		s.Model = s.ModelPreset1
	case 2:
		s.Model = s.ModelPreset2
	}
	return nil
}

func applySummarizationEnable(raw []byte, s *history.Session) error {
	var req struct {
		EnableSummarization *bool `json:"enable_summarization"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.New("invalid JSON payload")
	}
	if req.EnableSummarization == nil {
		return errors.New("enable_summarization is required")
	}
	s.EnableSummarization = *req.EnableSummarization
	return nil
}

func applySessionSettings(raw []byte, s *history.Session) error {
	var req struct {
		Settings *struct {
			ModelPreset1     *string  `json:"modelPreset1"`
			ModelPreset2     *string  `json:"modelPreset2"`
			Model            *string  `json:"model"`
			SummarizingModel *string  `json:"summarizingModel"`
			Temperature      *float64 `json:"temperature"`
			MaxTokens        *int     `json:"maxTokens"`
			Persona          *string  `json:"persona"`
		} `json:"session_settings"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.New("invalid JSON payload")
	}
	if req.Settings == nil {
		return errors.New("session_settings is required")
	}
	set := req.Settings
	if set.Temperature != nil && (*set.Temperature < 0 || *set.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if set.MaxTokens != nil && *set.MaxTokens <= 0 {
		return errors.New("maxTokens must be positive")
	}
	assign(&s.ModelPreset1, set.ModelPreset1)
	assign(&s.ModelPreset2, set.ModelPreset2)
	assign(&s.Model, set.Model)
	assign(&s.SummarizingModel, set.SummarizingModel)
	assign(&s.Persona, set.Persona)
	assign(&s.Temperature, set.Temperature)
	assign(&s.MaxTokens, set.MaxTokens)
	return nil
}

func applyTitle(raw []byte, s *history.Session) error {
	var req struct {
		Title *string `json:"title"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.New("invalid JSON payload")
	}
	if req.Title == nil {
		return errors.New("title is required")
	}
	s.Title = *req.Title
	return nil
}

func assign[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
