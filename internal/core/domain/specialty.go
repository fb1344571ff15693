package domain

import (
	"sort"
	"strings"
)

const SpecialtyUnknown = "UNKNOWN"

// SpecialtyCatalog maps treating-specialty descriptions to display categories.
type SpecialtyCatalog struct {
	exact    map[string]string
	keywords []specialtyKeyword
}

type specialtyKeyword struct {
	keyword  string
	category string
}

// NewSpecialtyCatalog builds a catalog from category → specialty names and
// category → partial-match keywords.
func NewSpecialtyCatalog(names map[string][]string, keywords map[string][]string) SpecialtyCatalog {
	c := SpecialtyCatalog{exact: make(map[string]string)}
	for category, list := range names {
		for _, name := range list {
			c.exact[normalizeSpecialty(name)] = category
		}
	}
	for category, list := range keywords {
		for _, kw := range list {
			c.keywords = append(c.keywords, specialtyKeyword{keyword: normalizeSpecialty(kw), category: category})
		}
	}
	// Longer keywords win so "PSYCH RESID" is not swallowed by "RESID".
	sort.SliceStable(c.keywords, func(i, j int) bool {
		if len(c.keywords[i].keyword) != len(c.keywords[j].keyword) {
			return len(c.keywords[i].keyword) > len(c.keywords[j].keyword)
		}
		return c.keywords[i].keyword < c.keywords[j].keyword
	})
	return c
}

// Category resolves a specialty by exact match, then keyword containment.
func (c SpecialtyCatalog) Category(specialty string) string {
	key := normalizeSpecialty(specialty)
	if key == "" {
		return SpecialtyUnknown
	}
	if category, ok := c.exact[key]; ok {
		return category
	}
	for _, kw := range c.keywords {
		if kw.keyword != "" && strings.Contains(key, kw.keyword) {
			return kw.category
		}
	}
	return SpecialtyUnknown
}

func (c SpecialtyCatalog) Size() int { return len(c.exact) }

func normalizeSpecialty(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
