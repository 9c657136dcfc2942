//go:build linux

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/device/v4l2"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List every V4L2 node that can capture video. The configured loopback
output device is left out.`,
	Example: `  # List cameras
  loopcam devices

  # Also read one frame from each to see which ones work
  loopcam devices --check

  # JSON output
  loopcam devices --format json`,
	RunE: runDevices,
}

var (
	devicesFormat string
	devicesCheck  bool
)

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
	devicesCmd.Flags().BoolVar(&devicesCheck, "check", false, "read one frame from each device")
}

type deviceRow struct {
	v4l2.Device
	Status string `json:"status,omitempty"`
}

func runDevices(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	devices, err := v4l2.ListDevices(cfg.OutputPort)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	rows := make([]deviceRow, 0, len(devices))
	for _, d := range devices {
		row := deviceRow{Device: d}
		if devicesCheck {
			want := device.Format{PixelFormat: device.YUYV, Resolution: device.Resolution{Width: 640, Height: 480}}
			granted, err := v4l2.ValidateCapture(d.Path, want, time.Duration(cfg.ReadTimeoutMS)*time.Millisecond)
			if err != nil {
				row.Status = err.Error()
			} else {
				row.Status = "ok " + granted.String()
			}
		}
		rows = append(rows, row)
	}

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "table":
		return printDevicesTable(rows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}
}

func printDevicesTable(rows []deviceRow) error {
	if len(rows) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "PATH\tNAME\tDRIVER\tSTATUS")
	fmt.Fprintln(w, "----\t----\t------\t------")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Path, r.Name, r.Driver, r.Status)
	}
	return nil
}
