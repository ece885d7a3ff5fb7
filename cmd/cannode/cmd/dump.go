package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/roffe/cannode/pkg/capture"
	"github.com/spf13/cobra"
)

const flagNoColor = "no-color"

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print a frame recording made with run --record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor, _ := cmd.Flags().GetBool(flagNoColor); noColor {
			color.NoColor = true
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return dumpCapture(cmd.OutOrStdout(), f)
	},
}

func init() {
	dumpCmd.Flags().Bool(flagNoColor, false, "disable colors")
	rootCmd.AddCommand(dumpCmd)
}

func dumpCapture(out io.Writer, in io.Reader) error {
	r := capture.NewReader(in)
	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n+1, err)
		}
		frame, err := rec.Frame()
		if err != nil {
			return fmt.Errorf("record %d: %w", n+1, err)
		}
		fmt.Fprintf(out, "%s %s\n", rec.Time.Format("15:04:05.000"), frame.ColorString())
		n++
	}
	fmt.Fprintf(out, "%d frames\n", n)
	return nil
}
