package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"concept-master-quiz/internal/app"
	"concept-master-quiz/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the REST endpoints and the attempt WebSocket.
func NewRouter(service *app.AttemptService) http.Handler {
	ws := NewWSHandler(service)
	api := &quizAPI{service: service}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws/attempt", ws.ServeWS)
	r.Route("/quizzes/{quizID}", func(r chi.Router) {
		r.Get("/", api.getQuiz)
		r.Post("/reload", api.reloadQuiz)
		r.Get("/attempts/{attemptID}/feedback", api.getFeedback)
	})
	return r
}

type quizAPI struct {
	service *app.AttemptService
}

func (a *quizAPI) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := a.service.Quiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (a *quizAPI) reloadQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := a.service.ReloadQuiz(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (a *quizAPI) getFeedback(w http.ResponseWriter, r *http.Request) {
	feedback, err := a.service.Feedback(r.Context(), chi.URLParam(r, "quizID"), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedback)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrAttemptNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrFeedbackFetchFailure):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}
