package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dlmelendez/identityazuretable-sub001/internal/app"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/config"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Rewrite records to the configured key scheme",
		Long: `Migrate pages through the source tables and rewrites every record of
one kind under the target key scheme. Flags override the config file.

Kinds: ` + strings.Join(migrations.Kinds(), ", ") + `

Example usage:
  idtable migrate --kind users --page-size 1000 --parallel 8
  idtable migrate --kind claims --delete-stale
  idtable migrate --kind users --start-page 4      # resume after page 3`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}
	f := cmd.Flags()
	f.String("kind", "", "record kind to migrate")
	f.Int("page-size", 0, "rows per source page (1..1000)")
	f.Int("parallel", 0, "records converted concurrently per page")
	f.Int("start-page", 0, "first page to process; earlier pages are read and skipped")
	f.Int("finish-page", 0, "last page to process (0 = until exhausted)")
	f.Bool("delete-stale", false, "delete replaced rows (in-place runs only)")
	f.Float64("rate-limit", 0, "max records converted per second (0 = unlimited)")
	f.String("scheme", "", "target key scheme: uri, sha1 or sha256")
	return cmd
}

// applyMigrateFlags copies the flags the user set onto cfg.
func applyMigrateFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("kind") {
		cfg.Migration.Kind, _ = f.GetString("kind")
	}
	if f.Changed("page-size") {
		cfg.Migration.PageSize, _ = f.GetInt("page-size")
	}
	if f.Changed("parallel") {
		cfg.Migration.Parallelism, _ = f.GetInt("parallel")
	}
	if f.Changed("start-page") {
		cfg.Migration.StartPage, _ = f.GetInt("start-page")
	}
	if f.Changed("finish-page") {
		cfg.Migration.FinishPage, _ = f.GetInt("finish-page")
	}
	if f.Changed("delete-stale") {
		cfg.Migration.DeleteStale, _ = f.GetBool("delete-stale")
	}
	if f.Changed("rate-limit") {
		cfg.Migration.RateLimit, _ = f.GetFloat64("rate-limit")
	}
	if f.Changed("scheme") {
		cfg.Keys.Scheme, _ = f.GetString("scheme")
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyMigrateFlags(cmd, cfg)

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.CreateTables(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var last *migrations.Summary
	var lastErr error
	err = a.Run(ctx, func(s *migrations.Summary, err error) {
		last, lastErr = s, err
		if s != nil {
			printSummary(out, s)
		}
	})
	if err == nil {
		err = lastErr
	}
	// a scheduled run ends by cancellation; re-runs are idempotent
	if cfg.Migration.Schedule != "" && ctx.Err() != nil {
		return nil
	}
	if last != nil && !last.Completed {
		if err == nil {
			err = errors.New("run stopped early")
		}
		return fmt.Errorf("%w; resume with --start-page %d", err, last.NextStartPage())
	}
	if err == nil && last != nil && !last.Exhausted {
		fmt.Fprintf(out, "resume with --start-page %d\n", last.NextStartPage())
	}
	return err
}

func printSummary(w io.Writer, s *migrations.Summary) {
	status := "completed"
	if !s.Completed {
		status = "stopped"
	}
	fmt.Fprintf(w, "migration %s: %s\n", s.Kind, status)
	fmt.Fprintf(w, "  pages      %s (exhausted: %t)\n", humanize.Comma(int64(s.Pages)), s.Exhausted)
	fmt.Fprintf(w, "  seen       %s\n", humanize.Comma(int64(s.Seen)))
	fmt.Fprintf(w, "  skipped    %s\n", humanize.Comma(int64(s.Skipped)))
	fmt.Fprintf(w, "  filtered   %s\n", humanize.Comma(int64(s.Filtered)))
	fmt.Fprintf(w, "  converted  %s\n", humanize.Comma(int64(s.Converted)))
	fmt.Fprintf(w, "  failed     %s\n", humanize.Comma(int64(s.Failed)))
	if s.Abandoned > 0 {
		fmt.Fprintf(w, "  abandoned  %s\n", humanize.Comma(int64(s.Abandoned)))
	}
	fmt.Fprintf(w, "  elapsed    %s\n", s.Elapsed.Round(time.Millisecond))
	for i, d := range s.PageDurations {
		fmt.Fprintf(w, "  page %-5d %s\n", i+1, d.Round(time.Millisecond))
	}
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  FAILED %s: %s\n", f.Key, f.Message)
	}
}
