package docker

import (
	"jobforge/internal/manager"

	"github.com/docker/docker/api/types/container"
)

// mapState translates a container state into a status record.
//
// created            -> pending
// running, paused    -> running
// restarting         -> retry
// exited with code 0 -> finished
// anything else      -> failed
func mapState(jobID string, state *container.State) manager.StatusRecord {
	record := manager.StatusRecord{JobID: jobID}
	if state == nil {
		record.Status = manager.StatusFailed
		record.Error = "container has no state"
		return record
	}

	switch state.Status {
	case "created":
		record.Status = manager.StatusPending

	case "running", "paused":
		record.Status = manager.StatusRunning

	case "restarting":
		record.Status = manager.StatusRetry

	default:
		exitCode := state.ExitCode
		record.ExitCode = &exitCode

		if state.Status == "exited" && exitCode == 0 {
			record.Status = manager.StatusFinished
		} else {
			record.Status = manager.StatusFailed
			if state.Error != "" {
				record.Error = state.Error
			}
		}
	}

	return record
}
