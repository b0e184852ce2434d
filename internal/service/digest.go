package service

import (
	"sort"
	"strings"

	"github.com/yicheng-lo/prayerbot/internal/models"
)

// RenderDigest renders the roster-ordered summary of a round. It is shared
// by the submit confirmation, the listing command and the closing message.
// Members are ordered by folded display name; members without an entry in
// the round are skipped.
func RenderDigest(group *models.Group, round *models.Round) string {
	var b strings.Builder
	for _, key := range sortedMemberKeys(group) {
		entry, ok := round.Entries[key]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderEntryLine(entry.DisplayName, entry))
	}
	return b.String()
}

// RenderEntry renders a single member's line, used by the my-entry command.
func RenderEntry(entry models.Entry) string {
	return renderEntryLine(entry.DisplayName, entry)
}

func renderEntryLine(name string, entry models.Entry) string {
	text := strings.TrimSpace(entry.Text)
	switch {
	case entry.Status == models.StatusUpdatedFromLastWeek && text != "":
		return name + "：" + text + " (同上週內容)"
	case entry.Status == models.StatusPending && text == "":
		return name + "：(待更新)"
	case text == "":
		return name + "：(內容為空)"
	default:
		return name + "：" + text
	}
}

// sortedMemberKeys returns the group's member keys ordered by folded
// display name, with the key as tiebreaker so the order is deterministic.
func sortedMemberKeys(group *models.Group) []string {
	keys := make([]string, 0, len(group.Members))
	for key := range group.Members {
		keys = append(keys, key)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ni := strings.ToLower(group.Members[keys[i]].DisplayName)
		nj := strings.ToLower(group.Members[keys[j]].DisplayName)
		if ni != nj {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
	return keys
}
