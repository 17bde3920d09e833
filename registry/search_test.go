package registry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nickyhof/BranchDB/core"
)

func sampleRegistry() core.Registry {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return core.Registry{Entities: []core.RegistryEntry{
		{Username: "carol", DisplayName: "Carol", Bio: "Go and databases", PublishedCount: 1, JoinedAt: base.Add(2 * time.Hour), UpdatedAt: base},
		{Username: "alice", DisplayName: "alice", Bio: "design", PublishedCount: 5, JoinedAt: base, UpdatedAt: base.Add(3 * time.Hour)},
		{Username: "bob", DisplayName: "Bob", Bio: "golang tooling", PublishedCount: 5, JoinedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)},
	}}
}

func usernames(page Page) []string {
	names := []string{}
	for _, e := range page.Entries {
		names = append(names, e.Username)
	}
	return names
}

func TestSearchSortOrders(t *testing.T) {
	reg := sampleRegistry()

	tests := []struct {
		sort string
		want []string
	}{
		{sort: "", want: []string{"alice", "bob", "carol"}},
		{sort: SortName, want: []string{"alice", "bob", "carol"}},
		{sort: SortNewest, want: []string{"carol", "bob", "alice"}},
		{sort: SortUpdated, want: []string{"alice", "bob", "carol"}},
		{sort: SortShowcases, want: []string{"alice", "bob", "carol"}},
	}
	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			page := Search(reg, Query{Sort: tt.sort})
			assert.Equal(t, tt.want, usernames(page))
			assert.Equal(t, 3, page.Total)
		})
	}
}

func TestSearchText(t *testing.T) {
	reg := sampleRegistry()

	page := Search(reg, Query{Text: "  GO "})
	assert.Equal(t, []string{"bob", "carol"}, usernames(page))
	assert.Equal(t, 2, page.Total)

	page = Search(reg, Query{Text: "nothing matches"})
	assert.Empty(t, page.Entries)
	assert.NotNil(t, page.Entries)
	assert.Equal(t, 0, page.Total)
}

func TestSearchPaging(t *testing.T) {
	reg := sampleRegistry()

	page := Search(reg, Query{Limit: 2})
	assert.Equal(t, []string{"alice", "bob"}, usernames(page))
	assert.Equal(t, 3, page.Total)

	page = Search(reg, Query{Limit: 2, Offset: 2})
	assert.Equal(t, []string{"carol"}, usernames(page))

	page = Search(reg, Query{Offset: 10})
	assert.Empty(t, page.Entries)
	assert.Equal(t, 3, page.Total)
}

func TestSearchHugeLimit(t *testing.T) {
	page := Search(sampleRegistry(), Query{Limit: math.MaxInt, Offset: 1})
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Entries, 2)

	page = Search(sampleRegistry(), Query{Limit: math.MaxInt, Offset: math.MaxInt})
	assert.Empty(t, page.Entries)
}
