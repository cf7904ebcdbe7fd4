// Package export renders the stored tab lists for humans and scripts.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/roamiiing/vibetabber/internal/types"
)

const (
	pinnedGroup   = "Pinned"
	unpinnedGroup = "Tabs"
)

// Markdown formats the stored tabs as a markdown document.
func Markdown(data types.StoredTabs) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Sidebar Tabs\n")
	fmt.Fprintf(&b, "> Exported %s\n", time.Now().Format("2006-01-02 15:04"))

	writeGroup(&b, pinnedGroup, data.Pinned)
	writeGroup(&b, unpinnedGroup, data.Unpinned)
	return b.String()
}

func writeGroup(b *strings.Builder, name string, tabs []*types.Tab) {
	if len(tabs) == 0 {
		return
	}
	noun := "tabs"
	if len(tabs) == 1 {
		noun = "tab"
	}
	fmt.Fprintf(b, "\n## %s (%d %s)\n\n", name, len(tabs), noun)

	for _, tab := range tabs {
		title := tab.DisplayTitle()
		if title == "" {
			title = tab.URL
		}
		fmt.Fprintf(b, "- [%s](%s)", escapeTitle(title), tab.URL)
		if tab.IsPinned && tab.PinnedURL != "" && tab.PinnedURL != tab.URL {
			fmt.Fprintf(b, " (pinned at %s)", tab.PinnedURL)
		}
		b.WriteString("\n")
	}
}

var titleEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

func escapeTitle(s string) string {
	return titleEscaper.Replace(s)
}
