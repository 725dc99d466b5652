package timeline

import (
	"strings"

	"github.com/lalith-99/echosync/internal/models"
)

// Filter returns the messages whose content contains query, ignoring case,
// in their original order. A blank query returns messages as given. The
// input slice is never modified.
func Filter(messages []models.Message, query string) []models.Message {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return messages
	}
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m.Content), q) {
			out = append(out, m)
		}
	}
	return out
}
