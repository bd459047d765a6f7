package sqlbackend

import "strings"

// joinCSV/splitCSV store a []string as a single comma-joined column. Fact
// and verdict ids are contract-defined identifiers and never contain commas.
func joinCSV(ids []string) string {
	return strings.Join(ids, ",")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
