package bootloader

import (
	"fmt"
)

// StoreError indicates that a persistent record could not be accessed.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// BudgetError indicates that the attempt budget of an image is exhausted.
type BudgetError struct {
	Attempts int
	Max      int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("image failed %d of %d update attempts", e.Attempts, e.Max)
}
