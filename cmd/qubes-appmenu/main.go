package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qubesos/qubes-appmenu/internal/ui"
	"github.com/qubesos/qubes-appmenu/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "qubes-appmenu",
	Short:         "Qubes OS application menu",
	Version:       version.Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Long = ui.Green.Render("Qubes App Menu") + " " + ui.Cyan.Render(version.Version) + "\n" +
		ui.Dim.Render("Keeps the application menu in sync with qubesd and serves it to renderers over a local socket.")
	rootCmd.SetVersionTemplate(fmt.Sprintf("qubes-appmenu %s\n  commit: %s\n  built:  %s\n", version.Version, version.Commit, version.Date))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Red.Render("error:"), err)
		os.Exit(1)
	}
}
