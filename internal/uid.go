// Task identifiers.

package wd_internal

import (
	"github.com/google/uuid"
)

// TaskID uniquely labels a task across the lifetime of the process
// group. Only equality is meaningful to callers; the representation is
// an implementation detail.
type TaskID uuid.UUID

// BadTaskID is the sentinel returned when an id cannot be minted; task
// creating operations return it on failure.
var BadTaskID = TaskID(uuid.Nil)

func NewTaskID() TaskID {
	id, err := uuid.NewRandom()
	if err != nil {
		return BadTaskID
	}
	return TaskID(id)
}

func (id TaskID) Equal(other TaskID) bool {
	return id == other
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}
