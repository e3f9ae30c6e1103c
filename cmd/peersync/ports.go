package main

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/peersync/internal/config"
	"github.com/hyperengineering/peersync/internal/ports"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/spf13/cobra"
)

var portsAppID string

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Show the preferred port of an app in every domain window",
	Long: "Resolves base + hash(app id) mod 100 for each domain. The app binds the next\n" +
		"free slot of the window when its preferred port is taken.",
	Args: cobra.NoArgs,
	RunE: runPorts,
}

func init() {
	portsCmd.Flags().StringVar(&portsAppID, "app-id", "",
		"App id to resolve (defaults to app.id from config)")
}

type portRow struct {
	Domain    types.Domain `json:"domain"`
	BasePort  int          `json:"base_port"`
	Preferred int          `json:"preferred_port"`
	WindowLo  int          `json:"window_lo"`
	WindowHi  int          `json:"window_hi"`
}

func runPorts(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadStoresConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	appID := portsAppID
	if appID == "" {
		appID = cfg.App.ID
	}
	if appID == "" {
		return errors.New("an app id is required: pass --app-id or set PEERSYNC_APP_ID")
	}

	rows := make([]portRow, 0, len(types.AllDomains()))
	for _, d := range types.AllDomains() {
		base := cfg.Ports.Base(d)
		if err := ports.ValidateBase(base); err != nil {
			return fmt.Errorf("%s: %w", d, err)
		}
		lo, hi := ports.Window(base)
		rows = append(rows, portRow{
			Domain:    d,
			BasePort:  base,
			Preferred: ports.ResolvePort(appID, base),
			WindowLo:  lo,
			WindowHi:  hi,
		})
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"app_id": appID,
			"ports":  rows,
		})
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "DOMAIN\tPORT\tWINDOW")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d-%d\n", r.Domain, r.Preferred, r.WindowLo, r.WindowHi)
	}
	return w.Flush()
}
