package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"taskpilot/app/core/broadcast"
	"taskpilot/app/core/orchestrator/chat"
	"taskpilot/app/core/reminder"
	"taskpilot/app/core/scheduler"
	"taskpilot/app/pkg/logger"
)

// userHeader carries the verified caller identity. Authentication is
// terminated upstream; this server trusts the header as-is.
const userHeader = "X-User-ID"

// Server exposes the chat turn endpoint, the reminder REST surface,
// and the websocket live channel.
type Server struct {
	port            int
	chatService     *chat.Service
	engine          *reminder.Engine
	caster          *broadcast.Broadcaster
	sched           *scheduler.Scheduler
	server          *http.Server
	shutdownTimeout time.Duration
	startedUnix     atomic.Int64
}

func NewServer(port int, chatService *chat.Service, engine *reminder.Engine, caster *broadcast.Broadcaster, sched *scheduler.Scheduler) *Server {
	return &Server{
		port:            port,
		chatService:     chatService,
		engine:          engine,
		caster:          caster,
		sched:           sched,
		shutdownTimeout: 5 * time.Second,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/reminders", s.handleReminders)
	mux.HandleFunc("/api/reminders/", s.handleReminderAction)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.startedUnix.Store(time.Now().Unix())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("[HTTP] Shutdown error: %v", err)
		}
	}()

	logger.Info("[HTTP] Listening on port %d...", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type chatRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
	Language       string `json:"language"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := s.chatService.Process(r.Context(), userID, req.ConversationID, req.Message, req.Language)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, chat.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, chat.ErrUnauthorized):
			writeError(w, http.StatusForbidden, "conversation belongs to another user")
		default:
			logger.Error("[HTTP] Chat turn failed user=%s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	items, err := s.engine.ListPending(r.Context(), userID)
	if err != nil {
		logger.Error("[HTTP] List reminders failed user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": items,
		"count":     len(items),
	})
}

type reminderActionRequest struct {
	RemindAt int64 `json:"remind_at"`
	Minutes  int   `json:"minutes"`
}

// handleReminderAction serves /api/reminders/{taskID}/{action} where
// action is one of set, snooze, acknowledge, dismiss, cancel.
func (s *Server) handleReminderAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	taskID, action, ok := parseReminderPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req reminderActionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var (
		result interface{}
		err    error
	)
	switch action {
	case "set":
		result, err = s.engine.Set(r.Context(), userID, taskID, req.RemindAt)
	case "snooze":
		minutes := req.Minutes
		if minutes <= 0 {
			minutes = 10
		}
		result, err = s.engine.Snooze(r.Context(), userID, taskID, minutes)
	case "acknowledge":
		result, err = s.engine.Acknowledge(r.Context(), userID, taskID)
	case "dismiss":
		result, err = s.engine.Dismiss(r.Context(), userID, taskID)
	case "cancel":
		result, err = s.engine.Cancel(r.Context(), userID, taskID)
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, reminder.ErrNotFound), errors.Is(err, reminder.ErrForbidden):
			// Ownership failures read as absence so ids are not probeable.
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, reminder.ErrNoReminder):
			writeError(w, http.StatusConflict, "task has no active reminder")
		default:
			logger.Error("[HTTP] Reminder %s failed user=%s task=%d: %v", action, userID, taskID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task": result})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": time.Now().Unix() - s.startedUnix.Load(),
		"live_users":     s.caster.UserCount(),
	}
	if s.sched != nil {
		status["jobs"] = s.sched.Snapshot()
	}
	writeJSON(w, http.StatusOK, status)
}

func parseReminderPath(path string) (int64, string, bool) {
	rest := strings.TrimPrefix(path, "/api/reminders/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		return 0, "", false
	}
	taskID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || taskID <= 0 {
		return 0, "", false
	}
	return taskID, parts[1], true
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, userHeader+" header is required")
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
