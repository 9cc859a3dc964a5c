package schema

import "time"

// Room lifecycle.

// CreateRoomRequest describes a request to create a room.
type CreateRoomRequest struct {
	Name     string
	Language Language
	Creator  Identity
}

// Execution.

// ExecutionRequest describes one sandboxed run of user-supplied code.
// RoomID is carried for attribution only; execution is independent of
// room membership.
type ExecutionRequest struct {
	Code     string
	Language Language
	Stdin    string
	UserID   UserID
	RoomID   RoomID
}

// ExecStatus classifies how a sandboxed execution completed.
type ExecStatus string

const (
	// ExecOK means the sandboxed command exited zero.
	ExecOK ExecStatus = "ok"
	// ExecTimeout means the wall-clock deadline expired and the sandbox was killed.
	ExecTimeout ExecStatus = "timeout"
	// ExecNonZeroExit means the command completed with a failure status.
	ExecNonZeroExit ExecStatus = "nonzero-exit"
	// ExecSetupFailure means the workspace or sandbox could not be created.
	ExecSetupFailure ExecStatus = "setup-failure"
)

// ExecutionResult carries the captured output of a sandboxed execution.
type ExecutionResult struct {
	Stdout   string        `json:"output"`
	Stderr   string        `json:"error"`
	Status   ExecStatus    `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"-"`
}
