//go:build linux

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/LoopCam/internal/device/v4l2"
	"github.com/spf13/cobra"
)

var resolutionsCmd = &cobra.Command{
	Use:   "resolutions [device]",
	Short: "List the sizes a capture device grants",
	Long: `Ask the device for each common size in each supported pixel format and
print the distinct formats it actually grants. Defaults to the configured
input device.`,
	Example: `  loopcam resolutions
  loopcam resolutions /dev/video2 --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolutions,
}

var resolutionsFormat string

func init() {
	rootCmd.AddCommand(resolutionsCmd)

	resolutionsCmd.Flags().StringVarP(&resolutionsFormat, "format", "f", "table", "output format (table or json)")
}

func runResolutions(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		configMgr, err := loadConfig()
		if err != nil {
			return err
		}
		path = configMgr.Get().InputDevice
	}

	formats, err := v4l2.ProbeResolutions(path)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", path, err)
	}

	switch resolutionsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(formats)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "FORMAT\tWIDTH\tHEIGHT")
		fmt.Fprintln(w, "------\t-----\t------")
		for _, f := range formats {
			fmt.Fprintf(w, "%s\t%d\t%d\n", f.PixelFormat, f.Width, f.Height)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", resolutionsFormat)
	}
}
