package types

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles every backend understands.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single turn of the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CanonicalRequest is the provider-agnostic representation every backend
// adapter consumes. The router rewrites Model in place to the backend-native
// id before the request reaches an adapter; Messages keep the order in which
// they were received.
type CanonicalRequest struct {
	Model    string
	Messages []Message
	Stream   bool

	// Extra carries provider-specific options (generation_config,
	// safety_settings, temperature, ...) untouched.
	Extra map[string]any
}

// ExtraValue returns Extra[key] and whether it was present and non-nil.
func (r *CanonicalRequest) ExtraValue(key string) (any, bool) {
	if r == nil || r.Extra == nil {
		return nil, false
	}
	v, ok := r.Extra[key]
	return v, ok && v != nil
}
