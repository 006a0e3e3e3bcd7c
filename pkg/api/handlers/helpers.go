package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/auth"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/sync"
	"parley/pkg/utils"
)

var mgr *sync.Manager

// Register mounts the conversation and message routes onto the /v1
// subrouter.
func Register(r *mux.Router, m *sync.Manager) {
	mgr = m
	registerConversations(r)
	registerMessages(r)
}

// caller pulls the identity resolved by the auth middleware.
func caller(r *http.Request) (auth.Caller, bool) {
	return auth.CallerFromContext(r.Context())
}

func identityOf(c auth.Caller) sync.Identity {
	return sync.Identity{Viewer: c.UserID, Role: c.Role}
}

// sessionFor authorizes the caller against a conversation key and opens
// its session. Agents only reach their own conversation; the counterpart
// side is one logical inbox and may reach any.
func sessionFor(w http.ResponseWriter, r *http.Request, agentID string) (*sync.Session, auth.Caller, bool) {
	c, ok := caller(r)
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthenticated")
		return nil, c, false
	}
	if c.Role == models.RoleAgent && c.UserID != agentID {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this conversation")
		return nil, c, false
	}
	return mgr.Open(agentID), c, true
}

// sessionForMessage resolves the conversation a message belongs to and
// opens its session.
func sessionForMessage(w http.ResponseWriter, r *http.Request, id string) (*sync.Session, auth.Caller, bool) {
	c, ok := caller(r)
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthenticated")
		return nil, c, false
	}
	m, err := store.GetMessage(id)
	if err != nil {
		writeSyncError(w, err)
		return nil, c, false
	}
	if c.Role == models.RoleAgent && c.UserID != m.Conversation {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this conversation")
		return nil, c, false
	}
	return mgr.Open(m.Conversation), c, true
}

// writeSyncError maps the core error taxonomy onto HTTP statuses.
func writeSyncError(w http.ResponseWriter, err error) {
	var ve *sync.ValidationError
	var te *sync.TransientError
	switch {
	case err == nil:
		utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.As(err, &ve):
		utils.JSONError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, sync.ErrNotAuthorized):
		utils.JSONError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, sync.ErrNotFound), errors.Is(err, store.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, sync.ErrQueueFull):
		utils.JSONError(w, http.StatusTooManyRequests, "server busy; try again")
	case errors.Is(err, sync.ErrSessionClosed):
		utils.JSONError(w, http.StatusServiceUnavailable, "conversation closed")
	case errors.Is(err, sync.ErrTimeout):
		utils.JSONError(w, http.StatusGatewayTimeout, "write timed out")
	case errors.As(err, &te):
		utils.JSONError(w, http.StatusBadGateway, "transient store failure; retry")
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
