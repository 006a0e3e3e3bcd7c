package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/sync"
	"parley/pkg/utils"
)

func registerConversations(r *mux.Router) {
	r.HandleFunc("/conversations/{agent}/messages", sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{agent}/messages", listMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{agent}/stream", streamProjection).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{agent}/sends/{token}/retry", retrySend).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{agent}/sends/{token}", discardSend).Methods(http.MethodDelete)
}

type sendRequest struct {
	Content    string             `json:"content"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	ReplyTo    string             `json:"reply_to,omitempty"`
	// Token lets a client resubmit under the same correlation token; empty
	// means the server mints one.
	Token string `json:"token,omitempty"`
}

// sendMessage accepts a draft, registers the optimistic placeholder and
// queues the durable write. The 202 carries the correlation token the
// client will see echoed on the authoritative record.
func sendMessage(w http.ResponseWriter, r *http.Request) {
	s, c, ok := sessionFor(w, r, pathVar(r, "agent"))
	if !ok {
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	d := models.Draft{
		Content:    req.Content,
		Attachment: req.Attachment,
		ReplyToID:  req.ReplyTo,
	}
	token, err := s.Send(d, req.Token, identityOf(c))
	if err != nil {
		writeSyncError(w, err)
		return
	}
	logger.Info("send_accepted", "conversation", s.Conversation(), "sender", c.Role, "token", token)
	utils.JSONWrite(w, http.StatusAccepted, map[string]string{"token": token})
}

// listMessages returns the viewer's current projection as day groups.
func listMessages(w http.ResponseWriter, r *http.Request) {
	s, c, ok := sessionFor(w, r, pathVar(r, "agent"))
	if !ok {
		return
	}
	viewer := c.UserID
	if v := r.URL.Query().Get("viewer"); v != "" && v != viewer {
		utils.JSONError(w, http.StatusForbidden, "viewer must match caller")
		return
	}
	groups, err := s.VisibleMessages(viewer)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, struct {
		Conversation string          `json:"conversation"`
		Groups       []sync.DayGroup `json:"groups"`
	}{Conversation: s.Conversation(), Groups: groups})
}

// streamProjection pushes the full recomputed projection over SSE on
// every visible change. Consumers diff by the stable per-message key.
func streamProjection(w http.ResponseWriter, r *http.Request) {
	s, c, ok := sessionFor(w, r, pathVar(r, "agent"))
	if !ok {
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	updates, cancel := s.Watch(c.UserID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case groups, open := <-updates:
			if !open {
				return
			}
			b, err := json.Marshal(groups)
			if err != nil {
				logger.Error("sse_marshal_failed", "err", err)
				return
			}
			fmt.Fprintf(w, "event: projection\ndata: %s\n\n", b)
			fl.Flush()
		}
	}
}

// retrySend re-issues a failed optimistic send under its original token.
func retrySend(w http.ResponseWriter, r *http.Request) {
	s, _, ok := sessionFor(w, r, pathVar(r, "agent"))
	if !ok {
		return
	}
	token := pathVar(r, "token")
	if err := s.Retry(token); err != nil {
		writeSyncError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusAccepted, map[string]string{"token": token})
}

// discardSend drops a failed send; the draft is gone for good.
func discardSend(w http.ResponseWriter, r *http.Request) {
	s, _, ok := sessionFor(w, r, pathVar(r, "agent"))
	if !ok {
		return
	}
	if err := s.Discard(pathVar(r, "token")); err != nil {
		writeSyncError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
