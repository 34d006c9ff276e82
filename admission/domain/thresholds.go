package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Property names accepted by ThresholdsFromProperties.
const (
	MaxQueryRunningTaskCountProperty                     = "max-query-running-task-count"
	MaxTotalRunningTaskCountToKillQueryProperty          = "max-total-running-task-count-to-kill-query"
	MaxTotalRunningTaskCountToNotExecuteNewQueryProperty = "max-total-running-task-count-to-not-execute-new-query"

	experimentalPrefix = "experimental."
)

// Thresholds configure the admission policy. Zero disables a rule.
type Thresholds struct {
	// A running query with more tasks than this is killed.
	MaxQueryRunningTaskCount int

	// Every running query is killed while the cluster runs at least this many tasks.
	MaxTotalRunningTaskCountToKillQuery int

	// Queued queries stay queued while the cluster runs at least this many tasks.
	MaxTotalRunningTaskCountToNotExecuteNewQuery int
}

func (t Thresholds) Validate() error {
	if t.MaxQueryRunningTaskCount < 0 {
		return fmt.Errorf("%s must be non-negative, got %d", MaxQueryRunningTaskCountProperty, t.MaxQueryRunningTaskCount)
	}
	if t.MaxTotalRunningTaskCountToKillQuery < 0 {
		return fmt.Errorf("%s must be non-negative, got %d", MaxTotalRunningTaskCountToKillQueryProperty, t.MaxTotalRunningTaskCountToKillQuery)
	}
	if t.MaxTotalRunningTaskCountToNotExecuteNewQuery < 0 {
		return fmt.Errorf("%s must be non-negative, got %d",
			MaxTotalRunningTaskCountToNotExecuteNewQueryProperty, t.MaxTotalRunningTaskCountToNotExecuteNewQuery)
	}
	return nil
}

func (t Thresholds) String() string {
	return fmt.Sprintf("perQuery:%d killTotal:%d notExecuteTotal:%d",
		t.MaxQueryRunningTaskCount, t.MaxTotalRunningTaskCountToKillQuery, t.MaxTotalRunningTaskCountToNotExecuteNewQuery)
}

// ThresholdsFromProperties overlays coordinator-style properties on base.
// Keys may carry an "experimental." prefix. Unrelated keys are ignored, empty values disable the rule.
func ThresholdsFromProperties(base Thresholds, props map[string]string) (Thresholds, error) {
	t := base
	for key, value := range props {
		var field *int
		switch strings.TrimPrefix(key, experimentalPrefix) {
		case MaxQueryRunningTaskCountProperty:
			field = &t.MaxQueryRunningTaskCount
		case MaxTotalRunningTaskCountToKillQueryProperty:
			field = &t.MaxTotalRunningTaskCountToKillQuery
		case MaxTotalRunningTaskCountToNotExecuteNewQueryProperty:
			field = &t.MaxTotalRunningTaskCountToNotExecuteNewQuery
		default:
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			*field = 0
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return base, fmt.Errorf("invalid value for %s: %q", key, value)
		}
		*field = n
	}
	if err := t.Validate(); err != nil {
		return base, err
	}
	return t, nil
}
