package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"teamdesk/pkg/identity"
	"teamdesk/pkg/session"
	"teamdesk/pkg/utils"
)

// Deps carries shared wiring into the handler set.
type Deps struct {
	Resolver     *identity.Resolver
	GroupID      string
	GroupName    string
	StreamWindow int
}

var deps Deps

// Register wires all REST routes onto the provided router.
func Register(r *mux.Router, d Deps) {
	deps = d

	RegisterConversations(r)
	RegisterMessages(r)
	RegisterNotifications(r)
	RegisterRoster(r)
}

// sessionFromRequest builds the acting session from the identity header.
// Responds with 400 and returns nil when the header is missing.
func sessionFromRequest(w http.ResponseWriter, r *http.Request) *session.Session {
	uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if uid == "" {
		utils.JSONError(w, http.StatusBadRequest, "X-User-ID header is required")
		return nil
	}
	deps.Resolver.Refresh()
	return session.New(deps.Resolver.Resolve(uid), uid)
}
