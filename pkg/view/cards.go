package view

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/records"
)

type field struct {
	label string
	value string
}

func writeCard(w io.Writer, heading string, fields []field) error {
	if _, err := fmt.Fprintln(w, heading); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := fmt.Fprintf(tw, "  %s:\t%s\n", f.label, f.value); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ProjectCard renders a project. A zero project renders as an empty card.
func ProjectCard(w io.Writer, p records.Project) error {
	return writeCard(w, "Project "+p.ID, []field{
		{"Title", p.Title},
		{"Status", p.Status},
		{"Organisation", p.OrganisationID},
		{"Members", strings.Join(p.Members, ", ")},
		{"Description", p.Description},
		{"Updated", formatTime(p.UpdatedAt)},
	})
}

// PersonCard renders a person.
func PersonCard(w io.Writer, p records.Person) error {
	return writeCard(w, "Person "+p.ID, []field{
		{"Name", p.Name},
		{"Email", p.Email},
		{"Role", p.Role},
		{"Organisation", p.OrganisationID},
		{"Updated", formatTime(p.UpdatedAt)},
	})
}

// OrganisationCard renders an organisation.
func OrganisationCard(w io.Writer, o records.Organisation) error {
	return writeCard(w, "Organisation "+o.ID, []field{
		{"Name", o.Name},
		{"Website", o.Website},
		{"Country", o.Country},
		{"Updated", formatTime(o.UpdatedAt)},
	})
}
