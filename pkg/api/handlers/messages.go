package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/utils"
)

func registerMessages(r *mux.Router) {
	r.HandleFunc("/messages/{id}", editMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", removeMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/hide", hideMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/status", advanceStatus).Methods(http.MethodPost)
}

// editMessage replaces the content of a message the caller sent.
func editMessage(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	s, c, ok := sessionForMessage(w, r, id)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.Edit(id, req.Content, identityOf(c)); err != nil {
		writeSyncError(w, err)
		return
	}
	logger.Info("message_edited", "id", id, "editor", c.UserID)
	utils.JSONWrite(w, http.StatusOK, map[string]string{"id": id})
}

// hideMessage removes the message from the caller's own projection only.
// Hiding twice is a silent no-op.
func hideMessage(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	s, c, ok := sessionForMessage(w, r, id)
	if !ok {
		return
	}
	if err := s.HideForViewer(id, identityOf(c)); err != nil {
		writeSyncError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// removeMessage hard-deletes a message the caller sent, for both parties.
func removeMessage(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	s, c, ok := sessionForMessage(w, r, id)
	if !ok {
		return
	}
	if err := s.DeleteForEveryone(id, identityOf(c)); err != nil {
		writeSyncError(w, err)
		return
	}
	logger.Info("message_removed", "id", id, "by", c.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// advanceStatus moves delivery status forward; regressions are accepted
// and ignored.
func advanceStatus(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	s, _, ok := sessionForMessage(w, r, id)
	if !ok {
		return
	}
	var req struct {
		Status models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	var err error
	switch req.Status {
	case models.StatusDelivered:
		err = s.MarkDelivered(id)
	case models.StatusSeen:
		err = s.MarkSeen(id)
	default:
		utils.JSONError(w, http.StatusBadRequest, "status must be delivered or seen")
		return
	}
	if err != nil {
		writeSyncError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"id": id, "status": string(req.Status)})
}
