package core

import "time"

type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Profile is the per-user document stored at profile.json
type Profile struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Website     string    `json:"website,omitempty"`
	Location    string    `json:"location,omitempty"`
	Links       []Link    `json:"links,omitempty"`
	Views       int       `json:"views"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Showcase is a child item stored at showcases/{slug}.json
type Showcase struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Published   bool      `json:"published"`
	Position    int       `json:"position"` // Sort order within the owner's branch
	Views       int       `json:"views"`
	Clicks      int       `json:"clicks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
