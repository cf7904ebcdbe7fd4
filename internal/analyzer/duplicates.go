// Package analyzer finds tabs that point at the same page.
package analyzer

import (
	"net/url"
	"sort"
	"strings"

	"github.com/roamiiing/vibetabber/internal/types"
)

// NormalizeURL drops the fragment, sorts query parameters and trims a
// trailing slash so equivalent addresses compare equal.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	params := u.Query()
	for k := range params {
		sort.Strings(params[k])
	}
	u.RawQuery = params.Encode()
	result := u.String()
	if strings.HasSuffix(result, "/") && result != u.Scheme+"://"+u.Host+"/" {
		result = strings.TrimRight(result, "/")
	}
	return result
}

// Duplicates maps the id of every tab that shares a normalized URL with
// another tab to the ids of those other tabs, in list order. Tabs without
// duplicates are absent.
func Duplicates(tabs []*types.Tab) map[string][]string {
	groups := make(map[string][]string)
	var order []string
	for _, tab := range tabs {
		normalized := NormalizeURL(tab.URL)
		if _, ok := groups[normalized]; !ok {
			order = append(order, normalized)
		}
		groups[normalized] = append(groups[normalized], tab.ID)
	}

	dupes := make(map[string][]string)
	for _, key := range order {
		ids := groups[key]
		if len(ids) < 2 {
			continue
		}
		for _, id := range ids {
			var others []string
			for _, other := range ids {
				if other != id {
					others = append(others, other)
				}
			}
			dupes[id] = others
		}
	}
	return dupes
}
