package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/go-chi/chi/v5"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Debugf("status: write response: %v", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.src.Started).Round(time.Second).String(),
	})
}

func (s *Server) slots(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.src.Tracker.Snapshot())
}

func (s *Server) today(w http.ResponseWriter, r *http.Request) {
	names := s.src.Tracker.ConfirmedToday()
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"day":       s.src.Tracker.CurrentDay().Format(ledger.DateLayout),
		"confirmed": names,
	})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if s.src.Dispatcher == nil {
		respondError(w, http.StatusNotFound, "dispatcher not running")
		return
	}
	respondJSON(w, http.StatusOK, s.src.Dispatcher.Stats())
}

func (s *Server) ledgerSection(w http.ResponseWriter, r *http.Request) {
	if s.src.Ledger == nil {
		respondError(w, http.StatusNotFound, "ledger not readable")
		return
	}

	day, err := time.ParseInLocation(ledger.DateLayout, chi.URLParam(r, "date"), s.src.Location)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	rows, err := s.src.Ledger.Section(r.Context(), day)
	switch {
	case errors.Is(err, ledger.ErrNoSection):
		respondError(w, http.StatusNotFound, "no section for "+day.Format(ledger.DateLayout))
		return
	case err != nil:
		log.Errorf("status: read ledger: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}
