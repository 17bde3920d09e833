package core

import "time"

// RegistryEntry is the denormalized summary of one user
type RegistryEntry struct {
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	ShowcaseCount  int       `json:"showcase_count"`
	PublishedCount int       `json:"published_count"`
	JoinedAt       time.Time `json:"joined_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Registry is the single aggregate index document
type Registry struct {
	Entities  []RegistryEntry `json:"entities"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Find returns the index of the entry for username, or -1
func (registry *Registry) Find(username string) int {
	for i, entry := range registry.Entities {
		if entry.Username == username {
			return i
		}
	}
	return -1
}

// Entry returns a copy of the entry for username
func (registry *Registry) Entry(username string) (RegistryEntry, bool) {
	if i := registry.Find(username); i >= 0 {
		return registry.Entities[i], true
	}
	return RegistryEntry{}, false
}
