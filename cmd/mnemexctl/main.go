// Command mnemexctl is the small operator CLI spec §6's ambient-stack
// rule still asks for even though the spec itself only specifies the
// tool-call surface: status, doctor, backup, and consolidate, in the
// teacher's cobra/lipgloss idiom (cmd/bd-examples).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mnemex/mnemex/internal/backup"
	"github.com/mnemex/mnemex/internal/config"
	"github.com/mnemex/mnemex/internal/engine"
)

var (
	configPath string
	projectDir string
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"})
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"})
	boldStyle = lipgloss.NewStyle().Bold(true)
)

func main() {
	root := &cobra.Command{
		Use:   "mnemexctl",
		Short: "Operate a mnemex knowledge store: status, doctor, backup, consolidate",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (optional)")
	root.PersistentFlags().StringVar(&projectDir, "dir", ".", "directory to detect the project id from")

	root.AddCommand(statusCmd(), doctorCmd(), backupCmd(), consolidateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func openEngine(ctx context.Context) (*engine.Engine, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = config.DetectProjectID(projectDir)
	}
	if projectID == "" {
		projectID = "global"
	}
	eng, err := engine.New(ctx, cfg, projectID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("open store: %w", err)
	}
	return eng, projectID, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show memory/contradiction/lock counts for the detected project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, projectID, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			active, err := eng.Dispatch.Store.AllActiveForProject(ctx, projectID)
			if err != nil {
				return err
			}
			pending, err := eng.Dispatch.Store.PendingContradictions(ctx, projectID)
			if err != nil {
				return err
			}
			lockStats := eng.Dispatch.Store.WriteLock.Stats()

			fmt.Println(boldStyle.Render("project: ") + projectID)
			fmt.Printf("  active memories:         %d\n", len(active))
			fmt.Printf("  pending contradictions:   %d\n", len(pending))
			fmt.Printf("  vector backend:           %s (ready=%v)\n", eng.Vectors.Backend(), eng.Vectors.IsReady())
			fmt.Printf("  write lock:               held=%v queue_depth=%d total_acquires=%d\n",
				lockStats.Held, lockStats.QueueDepth, lockStats.TotalAcquires)
			return nil
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run the SQLite integrity check and report pass/fail",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Dispatch.Store.IntegrityCheck(ctx); err != nil {
				fmt.Println(failStyle.Render("integrity check FAILED: ") + err.Error())
				return err
			}
			fmt.Println(okStyle.Render("integrity check passed"))
			return nil
		},
	}
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, or restore backups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a backup of the current database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			path, err := eng.Dispatch.Backup.Create(ctx)
			if err != nil {
				return err
			}
			fmt.Println(okStyle.Render("wrote ") + path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			entries, err := eng.Dispatch.Backup.List(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(warnStyle.Render("no backups found"))
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s  %s\n", e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), e.Path, e.SHA256[:12])
			}
			return nil
		},
	})

	var mode string
	restoreCmd := &cobra.Command{
		Use:   "restore <path>",
		Short: "Restore a backup document into the current database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Dispatch.Backup.Restore(ctx, args[0], backup.Mode(mode))
			if err != nil {
				return err
			}
			fmt.Printf("memories_restored=%d memories_skipped=%d edges_restored=%d scratchpad_restored=%d (mode=%s)\n",
				report.MemoriesRestored, report.MemoriesSkipped, report.EdgesRestored, report.ScratchpadRestored, mode)
			return nil
		},
	}
	restoreCmd.Flags().StringVar(&mode, "mode", "merge", `collision mode: "merge" (keep existing) or "replace" (clear first)`)
	cmd.AddCommand(restoreCmd)

	return cmd
}

func consolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation cycle immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, projectID, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Dispatch.Consolidation.Run(ctx, projectID)
			if err != nil {
				return err
			}
			if report.Skipped {
				fmt.Println(warnStyle.Render("skipped: another process holds the consolidation lock"))
				return nil
			}
			fmt.Printf("strengthened=%d decayed=%d scratchpad_purged=%d tool_calls_purged=%d re_embedded=%d backup_ran=%v\n",
				report.Strengthened, report.Decayed, report.ScratchpadPurged, report.ToolCallsPurged,
				report.ReEmbedded, report.BackupRan)
			return nil
		},
	}
}
