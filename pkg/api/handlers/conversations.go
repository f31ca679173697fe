package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"teamdesk/pkg/directory"
	"teamdesk/pkg/models"
	"teamdesk/pkg/store"
	"teamdesk/pkg/utils"
)

// RegisterConversations registers conversation-level HTTP routes.
func RegisterConversations(r *mux.Router) {
	r.HandleFunc("/conversations", listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/group/ensure", ensureGroup).Methods(http.MethodPost)
	r.HandleFunc("/conversations/direct/{target}", resolveDirect).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", getConversation).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", updateGroupSettings).Methods(http.MethodPut)
}

// listConversations handles GET /conversations: the caller's conversation
// list sorted by updated_at descending, the same ordering the live feed
// delivers.
func listConversations(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(w, r)
	if sess == nil {
		return
	}
	convs, err := store.ListConversationsFor(sess.Key)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	sort.SliceStable(convs, func(i, j int) bool { return convs[i].UpdatedAt > convs[j].UpdatedAt })
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []models.Conversation `json:"conversations"`
	}{Conversations: convs})
}

func getConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := store.GetConversation(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

// ensureGroup handles POST /conversations/group/ensure: lazily creates the
// well-known group and joins the caller. Idempotent by construction.
func ensureGroup(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(w, r)
	if sess == nil {
		return
	}
	d := directory.New(sess, deps.Resolver, deps.GroupID, deps.GroupName)
	d.EnsureWellKnownGroup()
	c, err := store.GetConversation(deps.GroupID)
	if err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "group unavailable")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

// resolveDirect handles GET /conversations/direct/{target}: returns the
// canonical direct-conversation id and display identity without creating
// anything; the document appears on first send.
func resolveDirect(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(w, r)
	if sess == nil {
		return
	}
	target := mux.Vars(r)["target"]
	d := directory.New(sess, deps.Resolver, deps.GroupID, deps.GroupName)
	id := d.ResolveOrCreate(target)
	exists := true
	if _, err := store.GetConversation(id); errors.Is(err, store.ErrNotFound) {
		exists = false
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID       string          `json:"id"`
		Exists   bool            `json:"exists"`
		Identity models.Identity `json:"identity"`
	}{ID: id, Exists: exists, Identity: deps.Resolver.Resolve(target)})
}

// updateGroupSettings handles PUT /conversations/{id}: a single document
// merge of name/avatar, so a failed save commits no partial state and the
// operation stays retryable by resubmission.
func updateGroupSettings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := store.UpdateGroupSettings(id, body.Name, body.Avatar); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	c, _ := store.GetConversation(id)
	_ = utils.JSONWrite(w, http.StatusOK, c)
}
