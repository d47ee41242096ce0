package state

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AdhocTaskPrefix prefixes ids of tasks that are not tied to an issue.
const AdhocTaskPrefix = "ADHOC"

// randomHex returns n bytes of randomness as 2n lowercase hex characters.
func randomHex(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:n])
}

// newIssueID returns "P-" followed by 8 hex characters, unique among taken.
func newIssueID(taken func(string) bool) string {
	for {
		id := "P-" + randomHex(4)
		if !taken(id) {
			return id
		}
	}
}

// newExecutionID returns "exec-<unix millis>-<6 hex>".
func newExecutionID(now time.Time) string {
	return fmt.Sprintf("exec-%d-%s", now.UnixMilli(), randomHex(3))
}

// taskPrefix returns the id prefix for a task of issueID.
func taskPrefix(issueID string) string {
	if issueID == "" {
		return AdhocTaskPrefix
	}
	return issueID
}

// nextTaskID returns "{prefix}-T{n}" where n is one more than the highest
// sequence already used with that prefix, so deleted ids are never reused.
func nextTaskID(prefix string, existing []string) string {
	marker := prefix + "-T"
	highest := 0
	for _, id := range existing {
		rest, ok := strings.CutPrefix(id, marker)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%d", marker, highest+1)
}
