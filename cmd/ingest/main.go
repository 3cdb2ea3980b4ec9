package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"ocr-ingest/internal/app"
	"ocr-ingest/internal/config"
	"ocr-ingest/internal/ingest"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment overrides,
// including those from a .env file in the working directory.
func loadConfig() (*config.Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("loading .env: %w", err)
	}

	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"], defaults["base_dir"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, "", fmt.Errorf("applying environment: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an IngestApp. The caller must defer app.Close().
func newApp(ctx context.Context, operation string) (*app.IngestApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewIngestApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "ingest",
	Short:        "Extract text from client archives into the progress store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s (with environment overrides):\n\n", path)
		return toml.NewEncoder(os.Stdout).Encode(config.Masked(cfg))
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every pending archive in the monitored paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), "Run")
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		summary, err := a.Run(cmd.Context(), workers, force)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}

		fmt.Printf("Discovered %d archive(s) in %s\n", summary.Discovered, time.Since(start).Truncate(time.Millisecond))
		fmt.Printf("  completed:   %d\n", summary.Completed)
		fmt.Printf("  failed:      %d\n", summary.Failed)
		fmt.Printf("  bad archive: %d\n", summary.BadArchive)
		fmt.Printf("  skipped:     %d\n", summary.Skipped)
		return nil
	},
}

// process command
var processCmd = &cobra.Command{
	Use:   "process KEY",
	Short: "Process a single archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), "Process")
		if err != nil {
			return err
		}
		defer a.Close()

		outcome, err := a.Process(cmd.Context(), args[0], output, force)
		if err != nil {
			return err
		}

		if outcome.Skipped {
			fmt.Printf("%s: skipped (%s)\n", outcome.Path, outcome.SkipReason)
			return nil
		}
		fmt.Printf("%s: %s (%d completed, %d failed, %d skipped)\n",
			outcome.Path, outcome.Status, outcome.FilesCompleted, outcome.FilesFailed, outcome.FilesSkipped)
		if outcome.Err != nil {
			return outcome.Err
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status KEY",
	Short: "View the stored state of an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		arc := report.Archive
		fmt.Printf("#%d  %s  %s  %s\n", arc.ID, arc.Path, arc.Status, arc.UpdatedAt.Format("2006-01-02 15:04:05"))
		if arc.ErrorData != "" {
			fmt.Printf("  error: %s\n", arc.ErrorData)
		}
		for _, f := range report.Files {
			detail := fmt.Sprintf("%d chars", len(f.Text))
			if f.Status == ingest.FileError {
				detail = f.ErrorData
			}
			fmt.Printf("  %-10s %s  %s\n", f.Status, f.Path, detail)
		}
		return nil
	},
}

// report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Count archives by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Report")
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := a.Report(cmd.Context())
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Println("No archives recorded.")
			return nil
		}

		statuses := make([]string, 0, len(counts))
		for s := range counts {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Printf("%-18s %d\n", s, counts[ingest.ArchiveStatus(s)])
		}
		return nil
	},
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge KEY",
	Short: "Forget an archive so the next run processes it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Purge")
		if err != nil {
			return err
		}
		defer a.Close()

		found, err := a.Purge(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("No archive recorded for %s\n", args[0])
			return nil
		}
		fmt.Printf("Purged %s\n", args[0])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-8s  %-10s  %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
				strings.TrimSpace(r.Parameters),
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntP("workers", "w", 0, "Archives processed concurrently (default from config)")
	runCmd.Flags().Bool("force", false, "Reprocess archives already completed")
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringP("output", "o", "", "Directory for extracted files (default: below output_dir)")
	processCmd.Flags().Bool("force", false, "Reprocess the archive if already completed")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
