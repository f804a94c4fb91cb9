package core

import "golang.org/x/xerrors"

// TaskExistsError is returned by NewTask when a task with the same ID has
// already been created. The caller (typically a task-type constructor like
// gcctask.Compile) decides whether reusing Existing is acceptable or
// whether the collision is a bug.
type TaskExistsError struct {
	ID       TaskID
	Existing *Task
}

func (e *TaskExistsError) Error() string {
	return xerrors.Errorf("task with id %q already exists", e.ID.Mangled()).Error()
}

// StallError is returned by (*Context).Run when the deadlock watchdog
// determines that every live task is suspended awaiting a signal that will
// never arrive (e.g. a module import cycle).
type StallError struct{}

func (StallError) Error() string {
	return "all remaining tasks are blocked, aborting"
}
