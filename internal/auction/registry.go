package auction

import "github.com/google/uuid"

// registry maps a connection to its display name. It is the single
// source of truth for who is present in the lobby. Not safe for
// concurrent use on its own; the session lock guards it.
type registry struct {
	participants map[uuid.UUID]string
	order        []uuid.UUID
}

func newRegistry() *registry {
	return &registry{
		participants: make(map[uuid.UUID]string),
	}
}

// join registers a connection or overwrites its display name. Display
// names are not required to be unique.
func (r *registry) join(connID uuid.UUID, name string) {
	if _, exists := r.participants[connID]; !exists {
		r.order = append(r.order, connID)
	}
	r.participants[connID] = name
}

// remove deletes the participant. Returns the removed name and whether
// the connection was registered at all.
func (r *registry) remove(connID uuid.UUID) (string, bool) {
	name, exists := r.participants[connID]
	if !exists {
		return "", false
	}
	delete(r.participants, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return name, true
}

// lookup resolves a connection to its display name. A missing entry
// means the inbound event should be silently dropped.
func (r *registry) lookup(connID uuid.UUID) (string, bool) {
	name, exists := r.participants[connID]
	return name, exists
}

// names returns display names in registration order.
func (r *registry) names() []string {
	names := make([]string, 0, len(r.order))
	for _, id := range r.order {
		names = append(names, r.participants[id])
	}
	return names
}

func (r *registry) len() int {
	return len(r.participants)
}
