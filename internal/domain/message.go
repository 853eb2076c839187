package domain

import "encoding/json"

// ─── Worker wire protocol ───────────────────────────────────────────────────
// The control plane and each worker process exchange newline-delimited JSON
// over the worker's stdin/stdout: commands flow in, responses flow out, in
// strict FIFO order. Three message shapes exist: a stop sentinel, an execute
// command, and a status response. The very first response on a fresh worker
// is always a single "ready" message.

// CommandType discriminates inbound worker commands.
type CommandType string

const (
	CommandExecute CommandType = "execute"
	CommandStop    CommandType = "stop"
)

// Command is a control-plane → worker message.
type Command struct {
	Type         CommandType     `json:"type"`
	FunctionName string          `json:"function_name,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// StopCommand is the shutdown sentinel.
func StopCommand() Command { return Command{Type: CommandStop} }

// ExecuteCommand builds an execute command for one invocation.
func ExecuteCommand(function string, payload json.RawMessage) Command {
	return Command{Type: CommandExecute, FunctionName: function, Payload: payload}
}

// ResponseStatus discriminates worker → control-plane messages.
type ResponseStatus string

const (
	StatusReady   ResponseStatus = "ready"
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
)

// Response is a worker → control-plane message. For "ready" the Error field
// carries the initialization failure, if any; the worker still answers
// commands afterward, replying "worker not initialized" to each execute.
type Response struct {
	Status ResponseStatus  `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
