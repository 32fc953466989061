/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package submission

import "fmt"

// State is a step of a submission. States are reached in declaration order.
type State int

const (
	Idle State = iota
	RepoURLResolved
	MainCheckedOut
	Synced
	BranchCreated
	FileWritten
	Committed
	Pushed
	PROpened
)

var stateNames = [...]string{
	Idle:            "idle",
	RepoURLResolved: "repo_url_resolved",
	MainCheckedOut:  "main_checked_out",
	Synced:          "synced",
	BranchCreated:   "branch_created",
	FileWritten:     "file_written",
	Committed:       "committed",
	Pushed:          "pushed",
	PROpened:        "pr_opened",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Error reports a failed submission along with the last state it reached.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("submission failed after %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
