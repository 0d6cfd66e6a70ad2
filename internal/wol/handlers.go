package wol

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/wolo/internal/server"
)

// handleWake wakes the host named by the {key} path segment, which may be
// a canonical key, an alias or an address literal.
func (m *Module) handleWake(w http.ResponseWriter, r *http.Request) {
	m.wake(w, r, r.PathValue("key"))
}

// handleWakeForm accepts the form field "host", as posted by HTML front ends.
func (m *Module) handleWakeForm(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("host")
	if name == "" {
		server.BadRequest(w, "missing host", r.URL.Path)
		return
	}
	m.wake(w, r, name)
}

func (m *Module) wake(w http.ResponseWriter, r *http.Request, name string) {
	res, err := m.Wake(r.Context(), name)
	switch {
	case errors.Is(err, ErrHostNotFound):
		server.NotFound(w, err.Error(), r.URL.Path)
		return
	case errors.Is(err, ErrRateLimited):
		server.RateLimited(w, err.Error(), r.URL.Path)
		return
	case errors.Is(err, ErrNoMacAddress):
		server.Unprocessable(w, err.Error(), r.URL.Path)
		return
	case err != nil:
		m.logger.Error("wake failed", zap.String("host", name), zap.Error(err))
		server.InternalError(w, "wake failed", r.URL.Path)
		return
	}

	server.WriteJSON(w, http.StatusOK, res)
}
