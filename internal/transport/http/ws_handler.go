package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"concept-master-quiz/internal/app"
	"concept-master-quiz/internal/domain"
	"concept-master-quiz/internal/grading"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID          string  `json:"questionId"`
	SelectedOptionIndex *int    `json:"selectedOptionIndex"`
	AnswerText          *string `json:"answerText"`
}

type clearPayload struct {
	QuestionID string `json:"questionId"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type submitPayload struct {
	Confirm bool `json:"confirm"`
}

type confirmPayload struct {
	Unanswered int `json:"unanswered"`
	Total      int `json:"total"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ServeWS upgrades HTTP requests to websockets and drives one attempt session.
// Sockets of the same user share the session; it is torn down, without
// submitting, when the last of them closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	if quizID == "" || userID == "" {
		http.Error(w, "missing quizId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Submissions are never cancelled once sent, even if the socket drops.
	ctx := context.WithoutCancel(r.Context())

	if _, err := h.service.Start(ctx, quizID, userID); err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer h.service.Leave(ctx, quizID, userID)

	updates, cancel, err := h.service.Subscribe(ctx, quizID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				slog.Warn("ws write error", "quiz_id", quizID, "user_id", userID, "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: update}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}
	sendError := func(err error, retryable bool) {
		push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Retryable: retryable}})
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sendError(errors.New("invalid answer payload"), false)
				continue
			}
			value := domain.AnswerValue{OptionIndex: payload.SelectedOptionIndex, Text: payload.AnswerText}
			if _, err := h.service.RecordAnswer(ctx, quizID, userID, payload.QuestionID, value); err != nil {
				sendError(err, false)
			}
		case "clear":
			var payload clearPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sendError(errors.New("invalid clear payload"), false)
				continue
			}
			if _, err := h.service.ClearAnswer(ctx, quizID, userID, payload.QuestionID); err != nil {
				sendError(err, false)
			}
		case "navigate":
			var payload navigatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sendError(errors.New("invalid navigate payload"), false)
				continue
			}
			if _, err := h.service.Navigate(ctx, quizID, userID, payload.Index); err != nil {
				sendError(err, false)
			}
		case "submit":
			var payload submitPayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					sendError(errors.New("invalid submit payload"), false)
					continue
				}
			}
			snap, err := h.service.Submit(ctx, quizID, userID, payload.Confirm)
			switch {
			case errors.Is(err, domain.ErrConfirmationRequired):
				push(outboundMessage[any]{Type: "confirm", Payload: confirmPayload{
					Unanswered: snap.Total - snap.Answered,
					Total:      snap.Total,
				}})
			case err != nil:
				sendError(err, grading.IsRetryable(err))
			}
		default:
			sendError(errors.New("unsupported message type"), false)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
