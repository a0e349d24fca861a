package errors

import "fmt"

// WorkspaceRootError indicates that an initialize request named a root
// location outside of the workspace this daemon serves.
type WorkspaceRootError struct {
	Root          string
	WorkspaceRoot string
}

// Error is an implementation of the error interface.
func (n *WorkspaceRootError) Error() string {
	return fmt.Sprintf("root location %q is outside of workspace %q", n.Root, n.WorkspaceRoot)
}

// NotInitializedError indicates that a method arrived before the session
// completed initialization.
type NotInitializedError struct {
	Method string
}

// Error is an implementation of the error interface.
func (n *NotInitializedError) Error() string {
	return fmt.Sprintf("method %q received before the session is initialized", n.Method)
}
