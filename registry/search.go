package registry

import (
	"sort"
	"strings"

	"github.com/nickyhof/BranchDB/core"
)

// Sort orders for Search
const (
	SortName      = "name"
	SortNewest    = "newest"
	SortUpdated   = "updated"
	SortShowcases = "showcases"
)

// Query filters and pages a registry client-side.
type Query struct {
	Text   string // Case-insensitive match on username, display name or bio
	Sort   string
	Limit  int // Zero means no limit
	Offset int
}

// Page is one page of search results; Total counts all matches.
type Page struct {
	Entries []core.RegistryEntry `json:"entries"`
	Total   int                  `json:"total"`
}

func Search(reg core.Registry, q Query) Page {
	text := strings.ToLower(strings.TrimSpace(q.Text))

	matches := make([]core.RegistryEntry, 0, len(reg.Entities))
	for _, entry := range reg.Entities {
		if text == "" || matchesText(entry, text) {
			matches = append(matches, entry)
		}
	}

	sort.SliceStable(matches, less(matches, q.Sort))

	page := Page{Total: len(matches), Entries: []core.RegistryEntry{}}
	if q.Offset < 0 || q.Offset >= len(matches) {
		return page
	}
	end := len(matches)
	if q.Limit > 0 && q.Limit < end-q.Offset {
		end = q.Offset + q.Limit
	}
	page.Entries = matches[q.Offset:end]
	return page
}

func matchesText(entry core.RegistryEntry, text string) bool {
	return strings.Contains(strings.ToLower(entry.Username), text) ||
		strings.Contains(strings.ToLower(entry.DisplayName), text) ||
		strings.Contains(strings.ToLower(entry.Bio), text)
}

func less(entries []core.RegistryEntry, order string) func(i, j int) bool {
	byName := func(i, j int) bool {
		a, b := strings.ToLower(entries[i].DisplayName), strings.ToLower(entries[j].DisplayName)
		if a != b {
			return a < b
		}
		return entries[i].Username < entries[j].Username
	}

	switch order {
	case SortNewest:
		return func(i, j int) bool {
			if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
				return entries[i].JoinedAt.After(entries[j].JoinedAt)
			}
			return byName(i, j)
		}
	case SortUpdated:
		return func(i, j int) bool {
			if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
				return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
			}
			return byName(i, j)
		}
	case SortShowcases:
		return func(i, j int) bool {
			if entries[i].PublishedCount != entries[j].PublishedCount {
				return entries[i].PublishedCount > entries[j].PublishedCount
			}
			return byName(i, j)
		}
	default:
		return byName
	}
}
