package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/LoopCam/internal/state"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and copy saved unit state",
	Long: `Unit settings are saved as one blob per file. "recent" names the slot the
server writes on exit; any other argument is a file path.`,
}

var stateShowCmd = &cobra.Command{
	Use:   "show [slot]",
	Short: "Print a saved blob",
	Example: `  loopcam state show
  loopcam state show ~/camera-setups/meeting.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStateShow,
}

var stateSaveCmd = &cobra.Command{
	Use:   "save <path>",
	Short: "Copy the recent slot to a file",
	Long: `Load the recent slot into freshly discovered units and save them to
path. Entries for units that no longer exist are dropped and entries that
no longer fit are reset to defaults.`,
	Args: cobra.ExactArgs(1),
	RunE: runStateSave,
}

var stateLoadCmd = &cobra.Command{
	Use:   "load <path>",
	Short: "Make a saved file the recent slot",
	Long: `Load path into freshly discovered units and write them to the recent
slot, so the next "serve --state recent" starts with it.`,
	Args: cobra.ExactArgs(1),
	RunE: runStateLoad,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd, stateSaveCmd, stateLoadCmd)
}

func slotPath(arg string) string {
	if arg == "recent" {
		return ""
	}
	return arg
}

func openStore() (*state.Store, *unit.Discovery, error) {
	configMgr, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg := configMgr.Get()
	d := unit.Discover(cfg.BlockList, unit.Env{DataDir: cfg.DataDir})
	return state.NewStore(cfg.StateDir), d, nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	store, d, err := openStore()
	if err != nil {
		return err
	}
	defer d.Close()

	path := ""
	if len(args) == 1 {
		path = slotPath(args[0])
	}
	blob, err := store.Read(path)
	if err != nil {
		return err
	}
	return yaml.NewEncoder(os.Stdout).Encode(blob)
}

func copySlot(from, to string) error {
	store, d, err := openStore()
	if err != nil {
		return err
	}
	defer d.Close()

	mismatches, err := store.Restore(from, d.Units)
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		fmt.Fprintf(os.Stderr, "reset to defaults: %v\n", m)
	}
	return store.Persist(to, d.Units)
}

func runStateSave(cmd *cobra.Command, args []string) error {
	return copySlot("", slotPath(args[0]))
}

func runStateLoad(cmd *cobra.Command, args []string) error {
	return copySlot(slotPath(args[0]), "")
}
