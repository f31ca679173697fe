package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"teamdesk/pkg/auth"
	"teamdesk/pkg/models"
	"teamdesk/pkg/notify"
	"teamdesk/pkg/store"
	"teamdesk/pkg/unread"
	"teamdesk/pkg/utils"
)

// RegisterNotifications registers notification feed routes.
func RegisterNotifications(r *mux.Router) {
	r.HandleFunc("/notifications", listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications", createNotification).Methods(http.MethodPost)
	r.HandleFunc("/notifications/clear", clearNotifications).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/read", markNotificationRead).Methods(http.MethodPost)
}

// listNotifications handles GET /notifications: the caller's feed (exact
// recipient or broadcast), newest first, with the derived unread count.
func listNotifications(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(w, r)
	if sess == nil {
		return
	}
	list, err := store.ListNotificationsFor(sess.Key)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Notifications []models.Notification `json:"notifications"`
		UnreadCount   int                   `json:"unread_count"`
	}{Notifications: list, UnreadCount: unread.Count(list, sess.UID)})
}

// createNotification handles POST /notifications. Producers are domain
// event sources (task assigned, task completed...); only backend/admin
// callers may publish.
func createNotification(w http.ResponseWriter, r *http.Request) {
	if role := auth.RoleFromContext(r.Context()); role != auth.RoleBackend && role != auth.RoleAdmin && role != auth.RoleUnauth {
		utils.JSONError(w, http.StatusForbidden, "backend credentials required")
		return
	}
	var body struct {
		Recipient string `json:"recipient"`
		Message   string `json:"message"`
		Type      string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.Recipient == "" || body.Message == "" {
		utils.JSONError(w, http.StatusBadRequest, "recipient and message are required")
		return
	}
	n, err := notify.Publish(body.Recipient, body.Message, body.Type)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, n)
}

// markNotificationRead handles POST /notifications/{id}/read: a one-way
// unread -> read transition via union-merge; re-reads are no-ops.
func markNotificationRead(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(w, r)
	if sess == nil {
		return
	}
	id := mux.Vars(r)["id"]
	if err := store.MarkNotificationRead(id, sess.UID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "notification not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clearNotifications handles POST /notifications/clear: one atomic batch
// delete of the caller's addressed notifications; broadcast entries stay.
func clearNotifications(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(w, r)
	if sess == nil {
		return
	}
	list, err := store.ListNotificationsFor(sess.Key)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := notify.New(sess).ClearMine(list); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
