package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/wcsync/wcsync/internal/conflict"
	"github.com/wcsync/wcsync/internal/merge"
	"github.com/wcsync/wcsync/internal/ops"
	"github.com/wcsync/wcsync/internal/reconcile"
	"github.com/wcsync/wcsync/internal/ui"
	"github.com/wcsync/wcsync/internal/vcs"
)

// outputFormat selects how results are printed
type outputFormat string

const (
	formatText outputFormat = "text"
	formatYAML outputFormat = "yaml"
	formatJSON outputFormat = "json"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case formatText, formatYAML, formatJSON:
		return f, nil
	case "":
		return formatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, yaml or json)", s)
	}
}

// encode writes v as YAML or JSON
func encode(w io.Writer, format outputFormat, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("cannot encode %s output", format)
	}
}

// summary is the printable form of a batch or reconciliation result
type summary struct {
	Revision              string             `json:"revision,omitempty" yaml:"revision,omitempty"`
	Committables          []string           `json:"committables,omitempty" yaml:"committables,omitempty"`
	WithDifferentNodeKind []string           `json:"with_different_node_kind,omitempty" yaml:"with_different_node_kind,omitempty"`
	PostCommitErrors      []string           `json:"post_commit_errors,omitempty" yaml:"post_commit_errors,omitempty"`
	Partition             conflict.Partition `json:"partition" yaml:"partition"`
	Errors                []string           `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func reconcileSummary(res reconcile.Result) summary {
	return summary{
		Committables:          res.Committables,
		WithDifferentNodeKind: res.WithDifferentNodeKind,
		PostCommitErrors:      postCommitMessages(res.PostCommitErrors),
		Partition:             res.Partition,
		Errors:                errorMessages(res.Err),
	}
}

func opsSummary(res ops.Result, err error) summary {
	return summary{
		Revision:         string(res.Revision),
		PostCommitErrors: postCommitMessages(res.PostCommitErrors),
		Partition:        res.Partition,
		Errors:           errorMessages(err),
	}
}

func postCommitMessages(errs []vcs.PostCommitError) []string {
	return lo.Map(errs, func(e vcs.PostCommitError, _ int) string { return e.Error() })
}

// errorMessages flattens an aggregated error
func errorMessages(err error) []string {
	if err == nil {
		return nil
	}
	if merr, ok := err.(*multierror.Error); ok {
		return lo.Map(merr.WrappedErrors(), func(e error, _ int) string { return e.Error() })
	}
	return []string{err.Error()}
}

// printSummary prints s in format
func printSummary(w io.Writer, format outputFormat, title string, s summary) error {
	if format != formatText {
		return encode(w, format, s)
	}

	status := ui.RenderPass("✓")
	switch {
	case s.Partition.Conflict:
		status = ui.RenderWarn("⚠")
	case len(s.Errors) > 0:
		status = ui.RenderFail("✗")
	}
	fmt.Fprintf(w, "%s %s\n", status, ui.RenderHeader(title))
	if s.Revision != "" {
		fmt.Fprintf(w, "   Revision: %s\n", s.Revision)
	}
	printList(w, "Committable", s.Committables)
	printList(w, "Node kind changed", s.WithDifferentNodeKind)
	printList(w, "Processed", s.Partition.Processed)
	printList(w, "Unprocessed", s.Partition.Unprocessed)
	if s.Partition.Message != "" {
		fmt.Fprintf(w, "   %s %s\n", ui.RenderWarn("Conflicts:"), s.Partition.Message)
	}
	for _, msg := range s.PostCommitErrors {
		fmt.Fprintf(w, "   %s %s\n", ui.RenderWarn("⚠"), msg)
	}
	for _, msg := range s.Errors {
		fmt.Fprintf(w, "   %s %s\n", ui.RenderFail("✗"), msg)
	}
	return nil
}

func printList(w io.Writer, label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(w, "   %s:\n", label)
	for _, p := range paths {
		fmt.Fprintf(w, "     %s\n", displayPath(p))
	}
}

// displayPath shows the working copy root as "."
func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}

// printStatuses prints merge status entries in format
func printStatuses(w io.Writer, format outputFormat, entries []merge.Entry) error {
	if format != formatText {
		if entries == nil {
			entries = []merge.Entry{}
		}
		return encode(w, format, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s nothing to merge\n", ui.RenderPass("✓"))
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s %s%s\n", statusLetter(e), displayPath(e.Path), statusNote(e))
	}
	return nil
}

// statusLetter renders an entry the way status listings do: A, D, M, R or C
func statusLetter(e merge.Entry) string {
	if e.TreeConflict {
		return ui.RenderFail("C")
	}
	switch e.Text {
	case vcs.ChangeAdded:
		return ui.RenderPass("A")
	case vcs.ChangeDeleted:
		return ui.RenderFail("D")
	case vcs.ChangeModified:
		return ui.RenderAccent("M")
	case vcs.ChangeReplaced:
		return ui.RenderAccent("R")
	case vcs.ChangeConflicted:
		return ui.RenderWarn("C")
	default:
		if e.Props != vcs.ChangeNone {
			return ui.RenderAccent("P")
		}
		return " "
	}
}

func statusNote(e merge.Entry) string {
	var notes []string
	if e.TreeConflict {
		notes = append(notes, "tree conflict")
	}
	if e.Skipped {
		notes = append(notes, "skipped")
	}
	if !e.Eligible {
		notes = append(notes, "not eligible")
	}
	if e.Source != "" && e.Source != e.Path {
		notes = append(notes, "from "+e.Source)
	}
	if len(notes) == 0 {
		return ""
	}
	return ui.RenderMuted("  (" + strings.Join(notes, ", ") + ")")
}
