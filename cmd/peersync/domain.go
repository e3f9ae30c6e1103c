package main

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/peersync/internal/types"
	"github.com/spf13/cobra"
)

var (
	dumpAll     bool
	deleteForce bool
)

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Inspect local domain stores",
	Long:  "List, dump and reset the local domain stores without running the sync engines.",
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the domain stores on disk",
	Args:  cobra.NoArgs,
	RunE:  runDomainList,
}

var domainDumpCmd = &cobra.Command{
	Use:   "dump <domain>",
	Short: "Print the records of a domain",
	Args:  cobra.ExactArgs(1),
	RunE:  runDomainDump,
}

var domainDeleteCmd = &cobra.Command{
	Use:   "delete <domain>",
	Short: "Delete the local store of a domain",
	Long: "Permanently delete the local data of a domain. Peers keep their copies and\n" +
		"send them back on the next catch-up. Requires --force or interactive confirmation.",
	Args: cobra.ExactArgs(1),
	RunE: runDomainDelete,
}

func init() {
	domainDumpCmd.Flags().BoolVar(&dumpAll, "all", false,
		"Include tombstones")
	domainDeleteCmd.Flags().BoolVar(&deleteForce, "force", false,
		"Skip confirmation prompt")

	domainCmd.AddCommand(domainListCmd)
	domainCmd.AddCommand(domainDumpCmd)
	domainCmd.AddCommand(domainDeleteCmd)
}

type domainRow struct {
	Domain         types.Domain `json:"domain"`
	LiveCount      int64        `json:"live_count"`
	TombstoneCount int64        `json:"tombstone_count"`
	LatestSequence int64        `json:"latest_sequence"`
	SizeBytes      int64        `json:"size_bytes"`
	Created        time.Time    `json:"created"`
	LastAccessed   time.Time    `json:"last_accessed"`
}

func runDomainList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	stores, err := mgr.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	sort.Slice(stores, func(i, j int) bool {
		return stores[i].Domain < stores[j].Domain
	})

	rows := make([]domainRow, 0, len(stores))
	for _, s := range stores {
		managed, err := mgr.GetStore(ctx, s.Domain)
		if err != nil {
			return err
		}
		stats, err := managed.Store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("%s stats: %w", s.Domain, err)
		}
		rows = append(rows, domainRow{
			Domain:         s.Domain,
			LiveCount:      stats.LiveCount,
			TombstoneCount: stats.TombstoneCount,
			LatestSequence: stats.LatestSequence,
			SizeBytes:      s.SizeBytes,
			Created:        s.Created,
			LastAccessed:   s.LastAccessed,
		})
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"domains": rows,
			"total":   len(rows),
		})
	}

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No domain stores found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "DOMAIN\tLIVE\tTOMBSTONES\tSIZE\tLAST ACCESSED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			r.Domain,
			r.LiveCount,
			r.TombstoneCount,
			formatSize(r.SizeBytes),
			r.LastAccessed.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runDomainDump(cmd *cobra.Command, args []string) error {
	d, err := types.ParseDomain(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()

	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	managed, err := mgr.GetStore(ctx, d)
	if err != nil {
		return err
	}
	var entities []types.Entity
	if dumpAll {
		entities, err = managed.Store.Snapshot(ctx)
	} else {
		entities, err = managed.Store.List(ctx)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", d, err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"domain":   d,
			"entities": entities,
			"total":    len(entities),
		})
	}

	if len(entities) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No records in %s.\n", d)
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tVERSION\tLAST MODIFIED\tSOURCE\tDELETED")
	for _, e := range entities {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%t\n",
			e.ID,
			e.Version,
			e.LastModified.Format(time.RFC3339Nano),
			e.SourceApp,
			e.Deleted,
		)
	}
	return w.Flush()
}

func runDomainDelete(cmd *cobra.Command, args []string) error {
	d, err := types.ParseDomain(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()

	mgr, err := resolveStoreManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	// Interactive confirmation unless --force
	if !deleteForce {
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "WARNING: This will permanently delete the local %s store.\n", d)
		fmt.Fprint(errOut, "Type the domain name to confirm: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}

		if strings.TrimSpace(input) != string(d) {
			fmt.Fprintln(errOut, "Aborted. Domain did not match.")
			return nil
		}
	}

	if err := mgr.DeleteStore(ctx, d); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"domain":  d,
			"deleted": true,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s store\n", d)
	return nil
}
