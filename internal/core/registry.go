package core

// Registry binds live connection ids to the user id each connection declared.
//
// It is not safe for concurrent use: the Hub goroutine is its only writer and reader.
// Several connections may bind the same user id (multi-device); nothing enforces uniqueness.
type Registry struct {
	bindings map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]string)}
}

// Register records the binding, overwriting any previous one for the connection.
func (r *Registry) Register(connID, userID string) {
	r.bindings[connID] = userID
}

// Unregister removes the binding. Unknown connection ids are ignored.
func (r *Registry) Unregister(connID string) {
	delete(r.bindings, connID)
}

// IdentityOf returns the user bound to the connection. A miss is a normal result.
func (r *Registry) IdentityOf(connID string) (string, bool) {
	userID, ok := r.bindings[connID]
	return userID, ok
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	return len(r.bindings)
}

// Bindings returns a copy of the current bindings.
func (r *Registry) Bindings() map[string]string {
	out := make(map[string]string, len(r.bindings))
	for conn, user := range r.bindings {
		out[conn] = user
	}
	return out
}
