package app

import (
	"fmt"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/vk/kernelbake/internal/builder"
)

// report renders the per-kernel outcome of a build as a table on outW.
func (a *App) report(m *builder.Manifest) {
	if a.outW == nil {
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(a.outW)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(fmt.Sprintf("kernelbake: %s, %d workers", m.Arch, m.Workers))
	tw.AppendHeader(table.Row{"Kernel", "Constant", "Artifact", "Status"})

	for _, e := range m.Entries {
		status := "up to date"
		if e.Compiled {
			status = "compiled"
		}
		tw.AppendRow(table.Row{e.Source, e.Name, filepath.Base(e.Artifact), status})
	}

	bindings := "unchanged"
	if m.WriteNeeded {
		bindings = "written"
	}
	tw.AppendFooter(table.Row{"", "", filepath.Base(m.BindingsPath), bindings})

	tw.Render()
}
