// Package roster tracks the participants of the room a client has joined.
package roster

import (
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

// Member is a remote participant of the room.
type Member struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Roster is the set of remote participants currently in the room. It is safe
// for concurrent use.
type Roster struct {
	members cmap.ConcurrentMap
}

// NewRoster ...
func NewRoster() *Roster {
	return &Roster{
		members: cmap.New(),
	}
}

// Add inserts a participant and returns true if it was not already present.
// The display name of an existing member is not changed.
func (r *Roster) Add(id string, displayName string) bool {
	return r.members.SetIfAbsent(id, Member{
		ID:          id,
		DisplayName: displayName,
		JoinedAt:    time.Now(),
	})
}

// Remove deletes a participant and returns true if it was present.
func (r *Roster) Remove(id string) bool {
	_, ok := r.members.Pop(id)
	return ok
}

// Has ...
func (r *Roster) Has(id string) bool {
	return r.members.Has(id)
}

// Get ...
func (r *Roster) Get(id string) (Member, bool) {
	v, ok := r.members.Get(id)
	if !ok {
		return Member{}, false
	}
	return v.(Member), true
}

// Members returns the participants sorted by join time, then id.
func (r *Roster) Members() []Member {
	res := make([]Member, 0, r.members.Count())
	for item := range r.members.IterBuffered() {
		res = append(res, item.Val.(Member))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].JoinedAt.Equal(res[j].JoinedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].JoinedAt.Before(res[j].JoinedAt)
	})
	return res
}

// Len ...
func (r *Roster) Len() int {
	return r.members.Count()
}

// Clear removes every participant and returns their ids.
func (r *Roster) Clear() []string {
	keys := r.members.Keys()
	for _, k := range keys {
		r.members.Remove(k)
	}
	sort.Strings(keys)
	return keys
}
