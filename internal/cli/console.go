package cli

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func printInfo(w io.Writer, format string, a ...any) {
	fmt.Fprint(w, pterm.Info.Sprintfln(format, a...))
}

func printWarning(w io.Writer, format string, a ...any) {
	fmt.Fprint(w, pterm.Warning.Sprintfln(format, a...))
}

func printSuccess(w io.Writer, format string, a ...any) {
	fmt.Fprint(w, pterm.Success.Sprintfln(format, a...))
}

// printTable renders a boxed table whose first row is the header.
func printTable(w io.Writer, header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)

	rendered, err := pterm.DefaultTable.
		WithHasHeader().
		WithBoxed().
		WithHeaderStyle(pterm.NewStyle(pterm.FgLightCyan)).
		WithData(data).
		Srender()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	fmt.Fprintln(w, rendered)
	return nil
}
