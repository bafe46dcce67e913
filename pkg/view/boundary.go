// Package view renders hook state as text. It holds no state of its own and
// performs no remote calls.
package view

import (
	"fmt"
	"io"

	"github.com/illmade-knight/go-recordview/pkg/query"
)

// DefaultLoadingMessage is shown when a boundary has no message of its own.
const DefaultLoadingMessage = "Loading..."

// Node is the outcome of a loading boundary: either the loading affordance or
// the children, never both.
type Node[T any] struct {
	Loading  bool
	Message  string
	Children T
}

// Boundary decides between the loading affordance and children. Children are
// kept verbatim, zero values included; absent data is a content concern.
func Boundary[T any](isLoading bool, children T, loadingMessage string) Node[T] {
	if loadingMessage == "" {
		loadingMessage = DefaultLoadingMessage
	}
	return Node[T]{Loading: isLoading, Message: loadingMessage, Children: children}
}

// Render writes the loading line, or hands the children to render.
func (n Node[T]) Render(w io.Writer, render func(io.Writer, T) error) error {
	if n.Loading {
		_, err := fmt.Fprintln(w, n.Message)
		return err
	}
	return render(w, n.Children)
}

// StateOptions tunes RenderState.
type StateOptions struct {
	LoadingMessage string
	// RetryHint is appended to error lines. Leave it empty when the state
	// does not come from a retrying presenter.
	RetryHint string
}

// RenderState renders a hook state: the loading line while loading, a safe
// error message once settled with an error, otherwise the content.
func RenderState[T any](w io.Writer, s query.State[T], opts StateOptions, render func(io.Writer, T) error) error {
	if !s.IsLoading && s.Err != nil {
		line := "Error: " + s.Err.UserMessage()
		if opts.RetryHint != "" {
			line += " " + opts.RetryHint
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
	return Boundary(s.IsLoading, s.Data, opts.LoadingMessage).Render(w, render)
}
