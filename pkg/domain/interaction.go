package domain

import "fmt"

// TaskKey is the logical identity of an interaction within a process.
type TaskKey struct {
	InstanceID uint64 `json:"instance_id" yaml:"instance_id"`
	TaskName   string `json:"task_name" yaml:"task_name"`
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%d/%s", k.InstanceID, k.TaskName)
}

// Participants are the two roles bound to a task.
type Participants struct {
	Sender   string `json:"sender" yaml:"sender"`
	Receiver string `json:"receiver" yaml:"receiver"`
}

// Validate rejects participant sets that cannot be partitioned.
func (p Participants) Validate() error {
	if p.Sender == "" && p.Receiver == "" {
		return fmt.Errorf("%w: empty role set", ErrMalformedSubmission)
	}
	if p.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrMalformedSubmission)
	}
	if p.Receiver == "" {
		return fmt.Errorf("%w: missing receiver", ErrMalformedSubmission)
	}
	return nil
}

// Interaction is an immutable unit of work awaiting a position in its domain's order.
type Interaction struct {
	Index      uint64 `json:"index"`
	InstanceID uint64 `json:"instance_id"`
	TaskName   string `json:"task_name"`
	Sender     string `json:"sender"`
	Receiver   string `json:"receiver"`
}

// Key returns the logical identity of the interaction.
func (i Interaction) Key() TaskKey {
	return TaskKey{InstanceID: i.InstanceID, TaskName: i.TaskName}
}

// Involves reports whether addr is the sender or the receiver.
func (i Interaction) Involves(addr string) bool {
	return i.Sender == addr || i.Receiver == addr
}
