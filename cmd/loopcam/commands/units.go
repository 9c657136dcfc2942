package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"github.com/spf13/cobra"
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List transform units in chain order",
	Long: `Instantiate every registered transform unit, except those on the
configured block list, and print them in the order frames pass through.`,
	Example: `  loopcam units
  loopcam units --format json`,
	RunE: runUnits,
}

var unitsFormat string

func init() {
	rootCmd.AddCommand(unitsCmd)

	unitsCmd.Flags().StringVarP(&unitsFormat, "format", "f", "table", "output format (table or json)")
}

type unitRow struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Group   string   `json:"group"`
	Order   int      `json:"order"`
	Actions []string `json:"actions"`
}

func runUnits(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	d := unit.Discover(cfg.BlockList, unit.Env{DataDir: cfg.DataDir})
	defer d.Close()

	rows := make([]unitRow, 0, len(d.Chain))
	for _, u := range d.Chain {
		row := unitRow{ID: u.ID(), Name: u.Name(), Group: u.Group(), Order: u.Order(), Actions: []string{}}
		for _, a := range u.Actions() {
			label := a.Label
			if a.Togglable() {
				label += " [toggle]"
			}
			row.Actions = append(row.Actions, label)
		}
		rows = append(rows, row)
	}
	for _, err := range d.Errors {
		fmt.Fprintf(os.Stderr, "skipped: %v\n", err)
	}

	switch unitsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "ORDER\tID\tNAME\tGROUP\tACTIONS")
		fmt.Fprintln(w, "-----\t--\t----\t-----\t-------")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", r.Order, r.ID, r.Name, r.Group, len(r.Actions))
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", unitsFormat)
	}
}
