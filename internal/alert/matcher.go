package alert

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/compintel-cli/internal/model"
)

var foldCaser = cases.Fold()

// Matches reports whether a rule applies to an event: both scopes must match
// and the condition must hold on the new value.
func Matches(rule model.AlertRule, event model.Event) bool {
	if !rule.Enabled {
		return false
	}
	if rule.EntityScope != model.ScopeAll && rule.EntityScope != event.EntityID {
		return false
	}
	if rule.FieldScope != model.ScopeAll && rule.FieldScope != event.FieldKey {
		return false
	}
	return conditionHolds(rule, event)
}

func conditionHolds(rule model.AlertRule, event model.Event) bool {
	switch rule.Condition {
	case model.CondChanged:
		// Every event is a change by construction.
		return true

	case model.CondGT, model.CondLT:
		if event.NewValue == nil {
			return false
		}
		n, ok := event.NewValue.Numeric()
		if !ok {
			return false
		}
		threshold, err := rule.NumericThreshold()
		if err != nil {
			return false
		}
		if rule.Condition == model.CondGT {
			return n > threshold
		}
		return n < threshold

	case model.CondContains:
		if event.NewValue == nil {
			return false
		}
		// Substring matching applies to textual values only; matching on a
		// number's rendering would make CONTAINS "5" fire on 59.
		if event.NewValue.Type != model.ValueText && event.NewValue.Type != model.ValueEnum {
			return false
		}
		haystack := foldCaser.String(event.NewValue.String())
		needle := foldCaser.String(rule.Threshold)
		return needle != "" && strings.Contains(haystack, needle)

	default:
		return false
	}
}
