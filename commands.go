package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"rfp_scout/api"
	"rfp_scout/models"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the discovery daemon and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			lock := flock.New(filepath.Join(a.cfg.DataDir, "rfp_daemon.lock"))
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return errors.New("another rfp_scout daemon is already running")
			}
			defer lock.Unlock()

			store, err := a.openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			d, err := a.newDaemon(ctx, store)
			if err != nil {
				return err
			}
			if err := d.SeedSchedules(ctx, a.cfg.Schedules); err != nil {
				return fmt.Errorf("seed schedules: %w", err)
			}
			if err := d.Start(ctx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			var srv *http.Server
			if !noAPI {
				if addr == "" {
					addr = a.cfg.APIAddr
				}
				srv = &http.Server{Addr: addr, Handler: api.NewServer(d).Handler(), ReadHeaderTimeout: 10 * time.Second}
				go func() {
					log.Printf("HTTP API listening on %s", addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Printf("HTTP API stopped: %v", err)
					}
				}()
			}

			log.Println("Daemon running. Press Ctrl+C to stop.")
			<-ctx.Done()

			log.Println("Shutting down...")
			d.Stop()
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Printf("HTTP shutdown: %v", err)
				}
				cancel()
			}
			if !d.WaitForRuns(a.cfg.Daemon.DrainTimeout) {
				log.Printf("In-flight run did not finish within %s, cancelling", a.cfg.Daemon.DrainTimeout)
				d.CancelCurrentRun()
				d.WaitForRuns(30 * time.Second)
			}
			log.Println("Goodbye!")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (defaults to API_ADDR)")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Run the scheduler without the HTTP API")
	return cmd
}

func newDiscoverCommand(a *app) *cobra.Command {
	cfg := models.DefaultSearchConfig()
	var mode string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery pass and print the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			exec, err := a.newExecutor(ctx, store)
			if err != nil {
				return err
			}

			cfg.RunMode = models.RunMode(mode)
			log.Println("Running discovery...")
			run, err := exec.Execute(ctx, cfg, "")
			if err != nil {
				return err
			}

			fmt.Printf("Run %s: found %d, qualified %d, maybe %d, rejected %d, errors %d\n",
				run.ID, run.TotalFound, run.TotalQualified, run.TotalMaybe, run.TotalRejected, run.TotalErrors)

			var rows [][]string
			for _, p := range append(append([]models.ProcessedOpportunity{}, run.Qualified...), run.Maybe...) {
				rows = append(rows, []string{
					strconv.FormatFloat(p.Assessment.Score, 'f', 1, 64),
					string(p.Assessment.Level),
					p.Opportunity.NoticeID,
					truncate(p.Opportunity.Title, 60),
					truncate(p.Opportunity.Agency, 30),
					formatTime(p.Opportunity.ResponseDeadline),
				})
			}
			if len(rows) > 0 {
				fmt.Println(renderTable(
					[]string{"Score", "Level", "Notice", "Title", "Agency", "Deadline"},
					rows,
					[]columnAlignment{alignRight},
				))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&cfg.Keywords, "keywords", cfg.Keywords, "Search keywords")
	cmd.Flags().IntVar(&cfg.DaysBack, "days", cfg.DaysBack, "Days of postings to search")
	cmd.Flags().IntVar(&cfg.MaxItems, "max", cfg.MaxItems, "Maximum opportunities to score")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Concurrent scoring calls")
	cmd.Flags().StringVar(&cfg.ModelName, "model", "", "Scoring model (defaults to DEFAULT_MODEL)")
	cmd.Flags().StringVar(&mode, "mode", string(cfg.RunMode), "Run mode: test, normal or overkill")
	return cmd
}

func newSchedulesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage discovery schedules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			schedules, err := store.ListSchedules(cmd.Context())
			if err != nil {
				return err
			}
			var rows [][]string
			for _, s := range schedules {
				rows = append(rows, []string{
					s.ID, s.Name, s.CronExpression, string(s.RunMode),
					strconv.FormatBool(s.Enabled), formatTime(s.LastRun), formatTime(s.NextRun),
				})
			}
			fmt.Println(renderTable([]string{"ID", "Name", "Cron", "Mode", "Enabled", "Last Run", "Next Run"}, rows, nil))
			return nil
		},
	})

	var name, cronExpr, mode string
	var keywords []string
	var disabled bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			d, err := a.newDaemon(cmd.Context(), store)
			if err != nil {
				return err
			}
			search := models.DefaultSearchConfig()
			if len(keywords) > 0 {
				search.Keywords = keywords
			}
			id, err := d.AddSchedule(cmd.Context(), models.Schedule{
				Name:           name,
				CronExpression: cronExpr,
				RunMode:        models.RunMode(mode),
				Enabled:        !disabled,
				SearchConfig:   search,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "Schedule name")
	add.Flags().StringVar(&cronExpr, "cron", models.DefaultCronExpression, "Five-field cron expression")
	add.Flags().StringVar(&mode, "mode", string(models.RunModeNormal), "Run mode")
	add.Flags().StringSliceVar(&keywords, "keywords", nil, "Search keywords")
	add.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <schedule-id>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.DeleteSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("schedule %s not found", args[0])
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newRunsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect past runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			var rows [][]string
			for _, r := range runs {
				started := r.StartedAt
				rows = append(rows, []string{
					r.ID, string(r.Status), formatTime(&started),
					strconv.Itoa(r.TotalFound), strconv.Itoa(r.TotalQualified),
					strconv.Itoa(r.TotalMaybe), strconv.Itoa(r.TotalErrors),
				})
			}
			fmt.Println(renderTable(
				[]string{"Run", "Status", "Started", "Found", "Qualified", "Maybe", "Errors"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	cmd.AddCommand(list)
	return cmd
}

func newLogsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Print the log of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.GetRunLogs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s %-7s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Level, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum entries to print")
	return cmd
}

func newMaintenanceCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Prune old logs and runs and refresh next run times",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			d, err := a.newDaemon(cmd.Context(), store)
			if err != nil {
				return err
			}
			if _, err := d.ReloadSchedules(cmd.Context()); err != nil {
				return err
			}
			report := d.RunMaintenance(cmd.Context())
			fmt.Printf("Pruned %d logs and %d runs, refreshed %d schedules\n",
				report.LogsPruned, report.RunsPruned, report.SchedulesUpdated)
			return nil
		},
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
