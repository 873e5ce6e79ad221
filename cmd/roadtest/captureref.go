package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"roadtest/internal/types"
)

var captureRefCmd = &cobra.Command{
	Use:   "capture-ref <name>",
	Short: "Capture the current screen as a named reference image",
	Long: `Takes a screenshot of the connected device and stores it as the
reference image for <name> under the device's geometry. Later runs whose
step references <name> are verified against this image.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		shot, w, h, err := a.driver.Screenshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("capturing screen: %w", err)
		}
		path, err := a.verifier.CaptureReference(types.DeviceID(w, h), args[0], shot)
		if err != nil {
			return err
		}
		fmt.Printf("reference %q saved (%dx%d)\n  %s\n", args[0], w, h, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(captureRefCmd)
}
