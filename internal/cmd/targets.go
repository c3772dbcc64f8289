package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewTargetsCommand creates the targets command
func NewTargetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the available targets",
		Long: `List every target found in the targets directory.

A target is available when its structure file is present. With --box the
search box of each target is shown as well; targets whose artifacts are
incomplete are reported instead.`,
		Args: cobra.NoArgs,
		RunE: runTargets,
	}

	cmd.Flags().Bool("box", false, "Show the search box of each target")

	return cmd
}

func runTargets(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	names, err := a.registry.ListAvailable()
	if err != nil {
		return err
	}
	w := a.stdout
	if len(names) == 0 {
		fmt.Fprintf(w, "No targets found in %s\n", a.registry.Dir)
		return nil
	}

	showBox, _ := cmd.Flags().GetBool("box")
	if !showBox {
		for _, name := range names {
			fmt.Fprintln(w, name)
		}
		return nil
	}

	width := 0
	for _, name := range names {
		width = max(width, len(name))
	}
	warn := color.New(color.FgYellow)
	if !a.colorOutput() {
		warn.DisableColor()
	}
	for _, name := range names {
		t, err := a.registry.Resolve(name)
		if err != nil {
			fmt.Fprintf(w, "%-*s  %s\n", width, name, warn.Sprint(err.Error()))
			continue
		}
		box, err := t.SearchBox()
		if err != nil {
			fmt.Fprintf(w, "%-*s  %s\n", width, name, warn.Sprint(err.Error()))
			continue
		}
		fmt.Fprintf(w, "%-*s  %s\n", width, name, box)
	}
	return nil
}
