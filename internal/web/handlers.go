package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"agendacal/internal/cache"
	"agendacal/internal/ics"
	"agendacal/internal/tools"
)

type healthResponse struct {
	OK      bool        `json:"ok"`
	Version string      `json:"version"`
	Cache   cache.State `json:"cache"`
	Auth    authInfo    `json:"auth"`
}

type authInfo struct {
	BearerRequired bool   `json:"bearer_required"`
	Status         string `json:"status"`
}

type infoResponse struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Endpoints   map[string]string `json:"endpoints"`
	Tools       int               `json:"tools"`
	Auth        authInfo          `json:"auth"`
}

type callResponse struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

func (s *Server) authInfo() authInfo {
	if s.auth.Load().BearerToken != "" {
		return authInfo{BearerRequired: true, Status: "protected"}
	}
	return authInfo{Status: "open"}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		OK:      true,
		Version: s.version,
		Cache:   s.cache.Status().State,
		Auth:    s.authInfo(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Name:        "agendacal",
		Version:     s.version,
		Description: "Time-relative queries over a conference agenda",
		Endpoints: map[string]string{
			"tools":    "/api/tools",
			"call":     "/api/tools/{name}",
			"calendar": "/agenda.ics",
			"health":   "/health",
			"metrics":  "/metrics",
		},
		Tools: len(s.tools.List()),
		Auth:  s.authInfo(),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.tools.List()})
}

// handleCallTool runs a tool. POST takes JSON arguments in the body; GET
// takes ?limit=N.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.tools.Has(name) {
		writeError(w, http.StatusNotFound, "unknown tool: "+name)
		return
	}

	var args tools.Args
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		args, err = tools.DecodeArgs(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			args.Limit = n
		}
	}

	out, err := s.tools.Call(r.Context(), name, args)
	if err != nil {
		s.writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callResponse{Tool: name, Result: out})
}

func (s *Server) writeCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tools.ErrInvalidArgs):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cache.ErrSourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "agenda source unavailable; try again later")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "agenda is still loading; try again shortly")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		s.log.Error("tool call failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleCalendar exports the current agenda as iCalendar.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	sched, now, err := s.agenda.Schedule(r.Context())
	if err != nil {
		s.writeCallError(w, err)
		return
	}

	res := s.agenda.Engine().Resolver()
	events := make([]ics.ExportEvent, 0, len(sched))
	for _, it := range sched {
		ev := ics.ExportEvent{Talk: it.Talk, Start: it.Start}
		if end, ok := res.Resolve(it.Talk.EndTimeText, it.Talk.DayLabel, now); ok {
			ev.End = end
		}
		events = append(events, ev)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="agenda.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ics.Export(events, s.now()))
}
