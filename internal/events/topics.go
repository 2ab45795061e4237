package events

import "fmt"

// Topic patterns for run lifecycle events.

func TopicRun(runID string) string {
	return fmt.Sprintf("runs.%s.events", runID)
}

// TopicRunsAll matches every run's event stream.
const TopicRunsAll = "runs.>"
