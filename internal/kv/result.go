package kv

import "fmt"

// Errc is the outcome of executing a command against the store.
type Errc uint8

// Store outcomes.
const (
	ErrcNone Errc = iota
	ErrcNotFound
	ErrcConflict
	ErrcUnknownCommand
)

var errcNames = [...]string{
	ErrcNone:           "none",
	ErrcNotFound:       "not_found",
	ErrcConflict:       "conflict",
	ErrcUnknownCommand: "unknown_command",
}

func (e Errc) String() string {
	if int(e) < len(errcNames) {
		return errcNames[e]
	}
	return fmt.Sprintf("errc(%d)", uint8(e))
}

// MarshalText implements encoding.TextMarshaler.
func (e Errc) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Errc) UnmarshalText(b []byte) error {
	for i, name := range errcNames {
		if name == string(b) {
			*e = Errc(i)
			return nil
		}
	}
	return fmt.Errorf("kv: unknown error code %q", b)
}

// ReplicationErrc is the outcome of getting a command committed.
type ReplicationErrc uint8

// Replication outcomes.
const (
	ReplicationNone ReplicationErrc = iota
	ReplicationTimeout
	ReplicationFailed
)

var replicationNames = [...]string{
	ReplicationNone:    "none",
	ReplicationTimeout: "timeout",
	ReplicationFailed:  "replication_failed",
}

func (e ReplicationErrc) String() string {
	if int(e) < len(replicationNames) {
		return replicationNames[e]
	}
	return fmt.Sprintf("replication_errc(%d)", uint8(e))
}

// MarshalText implements encoding.TextMarshaler.
func (e ReplicationErrc) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *ReplicationErrc) UnmarshalText(b []byte) error {
	for i, name := range replicationNames {
		if name == string(b) {
			*e = ReplicationErrc(i)
			return nil
		}
	}
	return fmt.Errorf("kv: unknown replication code %q", b)
}

// CommandResult is what every KV operation returns to its caller.
type CommandResult struct {
	WriteID          string          `json:"write_id"`
	Value            string          `json:"value"`
	KVError          Errc            `json:"kv_error"`
	ReplicationError ReplicationErrc `json:"replication_error"`
}

// OK reports whether the command committed and executed without error.
func (r CommandResult) OK() bool {
	return r.KVError == ErrcNone && r.ReplicationError == ReplicationNone
}

// Label returns a short outcome name used in logs and metrics.
func (r CommandResult) Label() string {
	if r.ReplicationError != ReplicationNone {
		return r.ReplicationError.String()
	}
	if r.KVError != ErrcNone {
		return r.KVError.String()
	}
	return "ok"
}

func replicationResult(code ReplicationErrc) CommandResult {
	return CommandResult{ReplicationError: code}
}

// TimeoutResult is returned when the deadline passes before the command commits.
func TimeoutResult() CommandResult { return replicationResult(ReplicationTimeout) }

// ReplicationFailedResult is returned when the log refuses the command.
func ReplicationFailedResult() CommandResult { return replicationResult(ReplicationFailed) }
