package ps

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("content hash conflict")
	ErrBranchExists    = errors.New("branch already exists")
	ErrUnavailable     = errors.New("backend unavailable")
	ErrUnauthorized    = errors.New("backend rejected credentials")
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidPath     = errors.New("invalid path")
)

// OpError records the operation, branch and path of a failed backend call.
type OpError struct {
	Op     string
	Branch string
	Path   string
	Err    error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Branch, e.Err)
	}
	return fmt.Sprintf("%s %s:%s: %v", e.Op, e.Branch, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// branchExistsError lets ErrBranchExists match ErrConflict as well.
type branchExistsError struct{}

func (branchExistsError) Error() string {
	return ErrBranchExists.Error()
}

func (branchExistsError) Is(target error) bool {
	return target == ErrBranchExists || target == ErrConflict
}

// NewOpError wraps err with operation context. ErrBranchExists is promoted
// so that it also satisfies errors.Is(err, ErrConflict).
func NewOpError(op, branch, path string, err error) error {
	if err == ErrBranchExists {
		err = branchExistsError{}
	}
	return &OpError{Op: op, Branch: branch, Path: path, Err: err}
}

// IsNotFound reports whether err means an absent branch or document
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is an optimistic-concurrency rejection
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTransient reports whether err is worth retrying without re-reading
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
