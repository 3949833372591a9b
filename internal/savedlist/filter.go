package savedlist

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/tagline/internal/domain"
)

// Criteria narrows a list snapshot. Zero values match everything.
type Criteria struct {
	Query       string            // Fuzzy title match
	Kind        *domain.MediaKind // Movies or TV only
	Genre       string            // Exact genre name, case-insensitive
	WatchedOnly bool
}

// titleSource implements fuzzy.Source over lowercase titles
type titleSource []domain.SavedItem

func (t titleSource) String(i int) string { return strings.ToLower(t[i].Title) }
func (t titleSource) Len() int            { return len(t) }

// Filter applies c to items. Without a query the input order is kept;
// with one, items are ordered by match quality.
func Filter(items []domain.SavedItem, c Criteria) []domain.SavedItem {
	filtered := make([]domain.SavedItem, 0, len(items))
	for _, item := range items {
		if c.Kind != nil && item.Kind != *c.Kind {
			continue
		}
		if c.WatchedOnly && !item.Watched {
			continue
		}
		if c.Genre != "" && !hasGenre(item, c.Genre) {
			continue
		}
		filtered = append(filtered, item)
	}

	query := strings.ToLower(strings.TrimSpace(c.Query))
	if query == "" {
		return filtered
	}

	matches := fuzzy.FindFrom(query, titleSource(filtered))
	out := make([]domain.SavedItem, len(matches))
	for i, m := range matches {
		out[i] = filtered[m.Index]
	}
	return out
}

func hasGenre(item domain.SavedItem, genre string) bool {
	for _, g := range item.Genres {
		if strings.EqualFold(g, genre) {
			return true
		}
	}
	return false
}

// GenresOf lists the distinct genre names present in items, in first-seen order
func GenresOf(items []domain.SavedItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		for _, g := range item.Genres {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	return out
}
