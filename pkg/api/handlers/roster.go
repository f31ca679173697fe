package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"teamdesk/pkg/models"
	"teamdesk/pkg/store"
	"teamdesk/pkg/utils"
)

// RegisterRoster registers identity routes.
func RegisterRoster(r *mux.Router) {
	r.HandleFunc("/roster", listRoster).Methods(http.MethodGet)
	r.HandleFunc("/accounts", registerAccount).Methods(http.MethodPost)
	r.HandleFunc("/identities/{ref}", resolveIdentity).Methods(http.MethodGet)
}

// listRoster handles GET /roster: the merged static + registered identity
// set.
func listRoster(w http.ResponseWriter, r *http.Request) {
	deps.Resolver.Refresh()
	all := deps.Resolver.All()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Participants []models.Participant `json:"participants"`
	}{Participants: all})
}

// registerAccount handles POST /accounts: stores a dynamically registered
// identity; the resolver merges it with the static roster by contact.
func registerAccount(w http.ResponseWriter, r *http.Request) {
	var p models.Participant
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.Key == "" || p.Name == "" {
		utils.JSONError(w, http.StatusBadRequest, "key and name are required")
		return
	}
	if err := store.SaveAccount(p); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	deps.Resolver.Refresh()
	_ = utils.JSONWrite(w, http.StatusCreated, p)
}

// resolveIdentity handles GET /identities/{ref}. Resolution never fails:
// unknown references come back as the placeholder identity.
func resolveIdentity(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	deps.Resolver.Refresh()
	_ = utils.JSONWrite(w, http.StatusOK, deps.Resolver.Resolve(ref))
}
