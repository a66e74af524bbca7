package store

import "errors"

// ErrNotFound signals that a requested record does not exist. Callers surface
// it as a structured not-found result, never as a server fault.
var ErrNotFound = errors.New("record not found")

// ErrConflict signals a unique-constraint collision, such as two dedup runs
// inserting the same signature hash. Callers recover by merging.
var ErrConflict = errors.New("conflicting record exists")
