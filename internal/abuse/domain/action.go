package domain

// actionThreshold is one row of the ordered action table. Rows are evaluated
// most-severe-first, then highest min-occurrences-first; the first satisfied
// row wins.
type actionThreshold struct {
	minSeverity    Severity
	minOccurrences int
	action         string
}

var actionThresholds = []actionThreshold{
	{minSeverity: SeveritySevere, minOccurrences: 1, action: ActionSuspension},
	{minSeverity: SeverityCritical, minOccurrences: 3, action: ActionSuspension},
	{minSeverity: SeverityCritical, minOccurrences: 1, action: ActionWarning},
	{minSeverity: SeverityWarning, minOccurrences: 5, action: ActionWarning},
}

// DetermineAction resolves the action for a detection. A single severe match
// suspends; critical needs 3 occurrences to suspend but 1 to warn; warning
// needs 5 to warn.
func DetermineAction(severity Severity, occurrences int) string {
	for _, threshold := range actionThresholds {
		if severity.AtLeast(threshold.minSeverity) && occurrences >= threshold.minOccurrences {
			return threshold.action
		}
	}
	return ActionNone
}
