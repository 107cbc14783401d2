package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"
)

func render(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table":
		rep, ok := v.(*report)
		if !ok {
			return fmt.Errorf("table output is not available for %T", v)
		}
		renderTables(w, rep)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

func renderTables(w io.Writer, rep *report) {
	modules := newTable(w, "Modules")
	modules.AppendHeader(table.Row{"ID", "Name", "Version", "Fragment", "Resolved", "Location"})
	for _, m := range rep.Modules {
		modules.AppendRow(table.Row{m.ID, m.Name, m.Version, m.Fragment, m.Resolved, m.Location})
	}
	modules.Render()

	wires := newTable(w, "Wires")
	wires.AppendHeader(table.Row{"Requirer", "Namespace", "Value", "Provider", "Declarer"})
	for _, wr := range rep.Wires {
		declarer := ""
		if wr.Declarer != wr.Provider {
			declarer = wr.Declarer
		}
		wires.AppendRow(table.Row{wr.Requirer, wr.Namespace, wr.Value, wr.Provider, declarer})
	}
	wires.Render()

	unresolved := slices.Concat(rep.UnresolvedRequired, rep.UnresolvedOptional)
	if len(unresolved) == 0 {
		return
	}
	problems := newTable(w, "Unresolved")
	problems.AppendHeader(table.Row{"Module", "Requirement", "Reason"})
	for _, u := range unresolved {
		problems.AppendRow(table.Row{u.Module, u.Requirement, u.Reason})
	}
	problems.Render()
}
