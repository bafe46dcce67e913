package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/illmade-knight/go-recordview/pkg/query"
	"github.com/illmade-knight/go-recordview/pkg/records"
	"github.com/illmade-knight/go-recordview/pkg/view"
	"github.com/spf13/cobra"
)

// recordResult is the JSON shape printed by show and edit.
type recordResult struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    int    `json:"code,omitempty"`
}

type showOptions struct {
	retries    int
	retryDelay time.Duration
	asJSON     bool
}

func (c *cli) newShowCmd() *cobra.Command {
	var opts showOptions
	cmd := &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Fetch a record and print it",
		Long:  "Fetch a project, person or organisation through the entity cache and print it.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := records.ParseKind(args[0])
			if err != nil {
				return err
			}
			if opts.retries < 0 {
				return errors.New("--retries cannot be negative")
			}

			ctx := cmd.Context()
			rt := c.newRuntime()
			app, err := rt.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

			out := showOutput{out: cmd.OutOrStdout(), status: cmd.ErrOrStderr(), kind: kind, id: args[1], opts: opts}
			switch kind {
			case records.KindProject:
				return showRecord(ctx, out, app.ProjectView(), view.ProjectCard)
			case records.KindPerson:
				return showRecord(ctx, out, app.PersonView(), view.PersonCard)
			default:
				return showRecord(ctx, out, app.OrganisationView(), view.OrganisationCard)
			}
		},
	}
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "retry a failed fetch up to this many times")
	cmd.Flags().DurationVar(&opts.retryDelay, "retry-delay", time.Second, "pause between retries")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	return cmd
}

type showOutput struct {
	out    io.Writer
	status io.Writer
	kind   records.Kind
	id     string
	opts   showOptions
}

// showRecord mounts v for the id and waits for it to settle. Failed fetches are
// retried through the presenter, paced by a constant backoff, except for
// client errors which a retry cannot fix.
func showRecord[T any](ctx context.Context, o showOutput, v *query.Retrying[string, T], card func(io.Writer, T) error) error {
	v.Mount(ctx, o.id)
	defer v.Unmount()

	if !o.opts.asJSON {
		_ = view.RenderState(o.status, v.State(), view.StateOptions{}, card)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.opts.retryDelay), uint64(o.opts.retries)),
		ctx,
	)

	attempt := 0
	var last query.State[T]
	operation := func() error {
		if attempt > 0 {
			v.OnRetry()
		}
		attempt++

		s, err := v.Await(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = s
		if s.Err == nil {
			return nil
		}
		if !retryable(s.Err) {
			return backoff.Permanent(s.Err)
		}
		return s.Err
	}
	notify := func(_ error, wait time.Duration) {
		if o.opts.asJSON {
			return
		}
		hint := fmt.Sprintf("Retrying in %s.", wait)
		_ = view.RenderState(o.status, last, view.StateOptions{RetryHint: hint}, card)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	var f *failure.Failure
	if err != nil && !errors.As(err, &f) {
		return err
	}

	if o.opts.asJSON {
		res := recordResult{Success: f == nil, Kind: string(o.kind), ID: o.id}
		if f != nil {
			res.Error = f.UserMessage()
			res.Code = f.Code
		} else {
			res.Data = last.Data
		}
		if perr := printJSON(o.out, res); perr != nil {
			return perr
		}
	} else {
		hint := ""
		if f != nil && retryable(f) {
			hint = "Run the command again with --retries to try again."
		}
		if rerr := view.RenderState(o.out, last, view.StateOptions{RetryHint: hint}, card); rerr != nil {
			return rerr
		}
	}
	if f != nil {
		return printedError{err: f}
	}
	return nil
}

// retryable reports whether fetching again could change the outcome.
func retryable(f *failure.Failure) bool {
	if f.Kind != failure.KindApplication || !f.HasCode() {
		return true
	}
	return f.Code >= http.StatusInternalServerError || f.Code == http.StatusTooManyRequests
}
