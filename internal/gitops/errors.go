package gitops

import "errors"

var (
	// ErrNotCloned indicates the repo directory is missing or not a git repository
	ErrNotCloned = errors.New("not cloned")
	// ErrNoUpstream indicates the current branch has no tracking branch
	ErrNoUpstream = errors.New("no upstream branch")
	// ErrConflict indicates a pull stopped on merge conflicts
	ErrConflict = errors.New("merge conflict")
	// ErrDetachedHead indicates HEAD does not point at a branch
	ErrDetachedHead = errors.New("detached HEAD")
	// ErrBranchNotFound indicates the local branch does not exist
	ErrBranchNotFound = errors.New("branch not found")
	// ErrBranchCheckedOut indicates an attempt to delete the current branch
	ErrBranchCheckedOut = errors.New("branch is checked out")
	// ErrNotMerged indicates the branch has commits missing from its base
	ErrNotMerged = errors.New("branch not fully merged")
)
