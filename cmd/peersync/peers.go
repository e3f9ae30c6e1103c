package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hyperengineering/peersync/internal/config"
	"github.com/hyperengineering/peersync/internal/peer"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var (
	peersDomain   string
	peersBasePort int
	peersTimeout  time.Duration
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Scan a domain's port window once and list the apps answering",
	Args:  cobra.NoArgs,
	RunE:  runPeers,
}

func init() {
	peersCmd.Flags().StringVar(&peersDomain, "domain", "",
		"Domain to scan (theme, language, profile, history, bookmark, rss, preferences, torrent_sharing)")
	peersCmd.Flags().IntVar(&peersBasePort, "base-port", 0,
		"Base port of the window (defaults to the configured base of the domain)")
	peersCmd.Flags().DurationVar(&peersTimeout, "timeout", 0,
		"Identify timeout per port (defaults to sync.request_timeout)")
	_ = peersCmd.MarkFlagRequired("domain")
}

func runPeers(cmd *cobra.Command, args []string) error {
	d, err := types.ParseDomain(peersDomain)
	if err != nil {
		return err
	}
	cfg, err := config.LoadStoresConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base := peersBasePort
	if base == 0 {
		base = cfg.Ports.Base(d)
	}
	timeout := peersTimeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.Sync.RequestTimeout)
	}

	// The scanner identifies as a throwaway app so it never matches a peer.
	client := peer.NewClient(cfg.Server.Host, cfg.Auth.APIKey, timeout)
	registry := peer.NewRegistry(peer.RegistryConfig{
		Self:     types.Identity{AppID: "peersync-cli-" + ulid.Make().String(), Domain: d},
		BasePort: base,
		Host:     cfg.Server.Host,
		Client:   client,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout+10*time.Second)
	defer cancel()
	result, err := registry.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover %s: %w", d, err)
	}

	status := make([]string, len(result.Reachable))
	for i, p := range result.Reachable {
		status[i] = "unknown"
		if h, err := client.Health(ctx, p.Port()); err == nil {
			status[i] = h.Status
		}
	}

	if jsonOutput {
		type listedPeer struct {
			peer.Peer
			Status string `json:"status"`
		}
		listed := make([]listedPeer, len(result.Reachable))
		for i, p := range result.Reachable {
			listed[i] = listedPeer{Peer: p, Status: status[i]}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"domain": d,
			"peers":  listed,
			"total":  len(listed),
		})
	}

	if len(result.Reachable) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No peers found for %s.\n", d)
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "APP ID\tNAME\tVERSION\tPORT\tSTATUS")
	for i, p := range result.Reachable {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			p.Identity.AppID, p.Identity.AppName, p.Identity.AppVersion, p.Port(), status[i])
	}
	return w.Flush()
}
