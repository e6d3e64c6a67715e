package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"userchat/internal/models"
)

// renderRows prints one JSON object per row. An error row renders the same
// way, so a failed lookup reads as {"error":"..."}.
func renderRows(rows []models.Row) string {
	if len(rows) == 0 {
		return "[]"
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		data, err := json.Marshal(row)
		if err != nil {
			fmt.Fprintf(&b, "%v", map[string]any(row))
			continue
		}
		b.Write(data)
	}
	return b.String()
}
