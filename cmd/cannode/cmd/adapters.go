package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/cannode"
	"github.com/roffe/cannode/panel"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List adapters, panels and serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		head := color.New(color.Bold)

		head.Fprintln(out, "adapters:")
		for _, a := range cannode.ListAdapters() {
			fmt.Fprintf(out, "  %s\n", a.String())
		}

		head.Fprintln(out, "panels:")
		for _, p := range panel.List() {
			fmt.Fprintf(out, "  %-10s %s\n", p.Name, p.Description)
		}

		head.Fprintln(out, "serial ports:")
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(out, "  none found")
		}
		for _, port := range ports {
			fmt.Fprintf(out, "  %s\n", port.Name)
			if port.IsUSB {
				fmt.Fprintf(out, "     USB ID      %s:%s\n", port.VID, port.PID)
				fmt.Fprintf(out, "     USB serial  %s\n", port.SerialNumber)
				if port.Product != "" {
					fmt.Fprintf(out, "     Product     %s\n", port.Product)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
