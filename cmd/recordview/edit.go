package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/illmade-knight/go-recordview/pkg/appstate"
	"github.com/illmade-knight/go-recordview/pkg/query"
	"github.com/illmade-knight/go-recordview/pkg/records"
	"github.com/illmade-knight/go-recordview/pkg/view"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func (c *cli) newEditCmd() *cobra.Command {
	var sets []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "edit <kind> <id> --set field=value...",
		Short: "Change fields of a record",
		Long: "Change fields of a record. Values are read as JSON when they parse, " +
			"otherwise as plain strings. Editing requires a session with the editor or admin role.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := records.ParseKind(args[0])
			if err != nil {
				return err
			}
			patch, err := parsePatch(sets)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt := c.newRuntime()
			app, err := rt.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

			if _, err := app.Sessions().Await(ctx); err != nil {
				return err
			}

			e := appstate.Edit{ID: args[1], Patch: patch}
			out := editOutput{out: cmd.OutOrStdout(), kind: kind, asJSON: asJSON, logger: c.logger}
			switch kind {
			case records.KindProject:
				return runEdit(ctx, out, app.EditProject(logSuccess[records.Project](out)), e, view.ProjectCard)
			case records.KindPerson:
				return runEdit(ctx, out, app.EditPerson(logSuccess[records.Person](out)), e, view.PersonCard)
			default:
				return runEdit(ctx, out, app.EditOrganisation(logSuccess[records.Organisation](out)), e, view.OrganisationCard)
			}
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value to set; repeat for several fields")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

// parsePatch turns field=value pairs into a Patch.
func parsePatch(sets []string) (records.Patch, error) {
	if len(sets) == 0 {
		return nil, errors.New("at least one --set is required")
	}
	patch := make(records.Patch, len(sets))
	for _, s := range sets {
		field, raw, ok := strings.Cut(s, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --set %q, expected field=value", s)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		patch[field] = value
	}
	return patch, nil
}

type editOutput struct {
	out    io.Writer
	kind   records.Kind
	asJSON bool
	logger zerolog.Logger
}

func logSuccess[T any](o editOutput) query.MutationOption[T] {
	return query.WithOnSuccess(func(T) {
		o.logger.Info().Str("kind", string(o.kind)).Msg("Record updated.")
	})
}

func runEdit[T any](ctx context.Context, o editOutput, m *query.Mutation[appstate.Edit, T], e appstate.Edit, card func(io.Writer, T) error) error {
	defer m.Unmount()

	s := m.Mutate(ctx, e)
	if o.asJSON {
		res := recordResult{Success: s.Err == nil, Kind: string(o.kind), ID: e.ID}
		if s.Err != nil {
			res.Error = s.Err.UserMessage()
			res.Code = s.Err.Code
		} else {
			res.Data = s.Data
		}
		if err := printJSON(o.out, res); err != nil {
			return err
		}
	} else if err := view.RenderState(o.out, s, view.StateOptions{}, card); err != nil {
		return err
	}
	if s.Err != nil {
		return printedError{err: s.Err}
	}
	return nil
}
