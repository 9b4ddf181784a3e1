package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/0x6d61/xssprobe/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Review stored scans and findings",
		Long: `Reads the SQLite store written by "scan --store". The store path defaults
to notify.store_path from the configuration.`,
	}
	cmd.PersistentFlags().String("store", "", "Findings store path (SQLite)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store session.Store) error {
				summaries, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range summaries {
					fmt.Fprintf(out, "%s  %s  %d vulnerable  %s\n",
						s.ID, s.UpdatedAt.Format(time.RFC3339), s.Vulnerable, s.TargetURL)
				}
				return nil
			})
		},
	}

	findingsCmd := &cobra.Command{
		Use:   "findings [url]",
		Short: "List stored findings, optionally for one URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var targetURL string
			if len(args) == 1 {
				targetURL = args[0]
			}
			return withStore(cmd, func(store session.Store) error {
				findings, err := store.Findings(cmd.Context(), targetURL)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, f := range findings {
					fmt.Fprintf(out, "[%s] %s %s parameter=%s payload=%s\n",
						f.Timestamp.Format(time.RFC3339), f.Type, f.URL, f.Parameter, f.Payload)
				}
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored scan and its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store session.Store) error {
				return store.Delete(cmd.Context(), args[0])
			})
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete scans older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, _ := cmd.Flags().GetDuration("max-age")
			return withStore(cmd, func(store session.Store) error {
				sqlStore, ok := store.(*session.SQLiteStore)
				if !ok {
					return fmt.Errorf("cleanup is not supported by this store")
				}
				n, err := sqlStore.Cleanup(cmd.Context(), maxAge)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d scan(s)\n", n)
				return nil
			})
		},
	}
	cleanupCmd.Flags().Duration("max-age", 30*24*time.Hour, "Delete scans not updated within this duration")

	cmd.AddCommand(listCmd, findingsCmd, deleteCmd, cleanupCmd)
	return cmd
}

// withStore opens the store named by --store (or the configuration) for
// the duration of fn.
func withStore(cmd *cobra.Command, fn func(session.Store) error) error {
	path, _ := cmd.Flags().GetString("store")
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.Notify.StorePath
	}
	if path == "" {
		return fmt.Errorf("store path is required (use --store or notify.store_path)")
	}

	store, err := session.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("failed to open store %q: %w", path, err)
	}
	defer store.Close()
	return fn(store)
}
