package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"teamdesk/pkg/models"
	"teamdesk/pkg/store"
	"teamdesk/pkg/stream"
	"teamdesk/pkg/utils"
)

// RegisterMessages registers message routes scoped under a conversation.
func RegisterMessages(r *mux.Router) {
	r.HandleFunc("/conversations/{id}/messages", sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", listMessages).Methods(http.MethodGet)
}

// sendMessage handles POST /conversations/{id}/messages: the two-phase
// send. target_key is required only for the first message of a new direct
// conversation, where it supplies the second participant.
func sendMessage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(w, r)
	if sess == nil {
		return
	}
	id := mux.Vars(r)["id"]
	var body struct {
		Text      string `json:"text"`
		TargetKey string `json:"target_key"`
		FileURL   string `json:"file_url"`
		FileType  string `json:"file_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var target *models.Identity
	if body.TargetKey != "" {
		t := deps.Resolver.Resolve(body.TargetKey)
		target = &t
	}

	s := stream.New(sess, deps.StreamWindow)
	var msg models.Message
	var err error
	if body.FileURL != "" {
		msg, err = s.SendAttachment(id, target, body.Text, body.FileURL, body.FileType)
	} else {
		msg, err = s.Send(id, target, body.Text)
	}
	if err != nil {
		if errors.Is(err, stream.ErrEmptyMessage) {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		// a lost message is a correctness violation for chat; the failure
		// is surfaced to the sender, never swallowed
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

// listMessages handles GET /conversations/{id}/messages: ascending order,
// bounded to the most recent limit (default: the live window).
func listMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := deps.StreamWindow
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim > 0 {
			limit = lim
		}
	}
	msgs, err := store.ListMessages(id, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ConversationID string           `json:"conversation_id"`
		Messages       []models.Message `json:"messages"`
	}{ConversationID: id, Messages: msgs})
}
