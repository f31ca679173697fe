// Package identity resolves participant references to display identities.
//
// The identity set is the union of the static roster (config) and the
// dynamically registered accounts (store), merged by contact address; either
// source may be authoritative for a key. Resolution never fails: an unknown
// reference degrades to a placeholder identity the UI can always render.
package identity

import (
	"sync"

	"teamdesk/pkg/config"
	"teamdesk/pkg/logger"
	"teamdesk/pkg/models"
	"teamdesk/pkg/store"
)

// UnknownName is the synthesized display name for unresolved references.
const UnknownName = "Unknown User"

// Resolver holds the merged identity set. Refresh recomputes the merge;
// Resolve is a pure lookup and performs no I/O.
type Resolver struct {
	mu     sync.RWMutex
	roster []config.RosterEntry
	byKey  map[string]models.Participant
}

// NewResolver builds a resolver seeded from the static roster. Call
// Refresh whenever a subscription refresh suggests the account set changed.
func NewResolver(roster []config.RosterEntry) *Resolver {
	r := &Resolver{roster: roster}
	r.rebuild(nil)
	return r
}

// Refresh re-reads registered accounts and recomputes the merged set. A
// store failure keeps the previous merge; resolution must not degrade on a
// transient read error.
func (r *Resolver) Refresh() {
	accounts, err := store.ListAccounts()
	if err != nil {
		logger.Warn("identity_refresh_failed", "error", err)
		return
	}
	r.rebuild(accounts)
}

func (r *Resolver) rebuild(accounts []models.Participant) {
	merged := make(map[string]models.Participant, len(r.roster)+len(accounts))
	byContact := make(map[string]string, len(r.roster))
	for _, e := range r.roster {
		merged[e.Key] = models.Participant{
			Key: e.Key, Name: e.Name, Avatar: e.Avatar, Role: e.Role, Contact: e.Contact,
		}
		if e.Contact != "" {
			byContact[e.Contact] = e.Key
		}
	}
	for _, a := range accounts {
		// an account sharing a roster contact address is the same identity;
		// the account record wins for display fields
		if k, ok := byContact[a.Contact]; ok && a.Contact != "" {
			cur := merged[k]
			if a.Name != "" {
				cur.Name = a.Name
			}
			if a.Avatar != "" {
				cur.Avatar = a.Avatar
			}
			merged[k] = cur
			if a.Key != k {
				merged[a.Key] = cur
			}
			continue
		}
		merged[a.Key] = a
	}
	r.mu.Lock()
	r.byKey = merged
	r.mu.Unlock()
}

// Resolve maps a participant reference (roster id, account id or raw key)
// to a display identity. Unresolved references are a valid displayable
// state, not a failure.
func (r *Resolver) Resolve(ref string) models.Identity {
	r.mu.RLock()
	p, ok := r.byKey[ref]
	r.mu.RUnlock()
	if !ok {
		return models.Identity{Key: ref, Name: UnknownName}
	}
	return models.Identity{Key: p.Key, Name: p.Name, Avatar: p.Avatar}
}

// All returns the merged participant set, for roster listings.
func (r *Resolver) All() []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Participant, 0, len(r.byKey))
	for _, p := range r.byKey {
		out = append(out, p)
	}
	return out
}
