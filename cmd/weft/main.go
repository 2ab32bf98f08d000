// Command weft is the operator CLI: health checks (doctor) and a manual
// trigger for the background reclamation worker (gc run). Root/subcommand
// layout follows cmd/bd's one-file-per-subcommand convention with a
// package-level var<name>Cmd wired up in that file's init; charmbracelet/
// huh and lipgloss render prompts and output the way cmd/bd/create_form.go
// and cmd/bd/thanks.go do, and charmbracelet/glamour renders the doctor
// report's Markdown the way spec's ambient CLI stack calls for.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "weft: a personal media-and-knowledge graph, operator CLI",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
