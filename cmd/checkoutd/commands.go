package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/checkout/migrations"
	"github.com/dmitrymomot/checkout/pkg/config"
	"github.com/dmitrymomot/checkout/pkg/httpserver"
	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/pkg/pg"
	"github.com/dmitrymomot/checkout/svc/plan"
)

func serveCmd(envFiles *[]string) *cobra.Command {
	var (
		migrate   bool
		noSweeper bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the checkout API and run the reconciliation sweeper",
		Long: `Serve the checkout API.

The reconciliation sweeper runs in the same process unless --no-sweeper is
set; run it separately with "checkoutd sweep --loop" in that case.

Examples:
  checkoutd serve --migrate
  checkoutd serve --no-sweeper --env-file .env`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFiles)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if migrate {
				if err := a.migrate(ctx); err != nil {
					return err
				}
			}

			g, ctx := errgroup.WithContext(ctx)
			srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
			g.Go(func() error { return srv.Run(ctx, a.handler()) })
			if !noSweeper {
				g.Go(func() error { return a.sweeper.Run(ctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "do not run the reconciliation sweeper in this process")
	return cmd
}

func migrateCmd(envFiles *[]string) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFiles)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			ctx := cmd.Context()

			pool, err := pg.Connect(ctx, cfg.PG)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if !status {
				if err := pg.Migrate(ctx, pool, migrations.FS, cfg.PG, log); err != nil {
					return err
				}
			}
			version, err := pg.SchemaVersion(ctx, pool, cfg.PG)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print the schema version without migrating")
	return cmd
}

func sweepCmd(envFiles *[]string) *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire challenges, abandon idle sessions, resume stale ones and reconcile partial failures",
		Long: `Run the reconciliation sweeps.

Without --loop a single pass runs and its report is printed. With --loop the
sweeper runs on RECONCILE_INTERVAL until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFiles)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if loop {
				return a.sweeper.Run(ctx)
			}
			rep, err := a.sweeper.SweepOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d abandoned=%d resumed=%d reconciled=%d errors=%d\n",
				rep.Expired, rep.Abandoned, rep.Resumed, rep.Reconciled, rep.Errors)
			if err != nil {
				log.ErrorContext(ctx, "sweep finished with errors", logger.Error(err))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep sweeping on the configured interval")
	return cmd
}

func plansCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "Validate the plan catalog and list its public plans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnv(*envFiles...); err != nil {
				return err
			}
			var cfg catalogConfig
			if err := config.Load(&cfg); err != nil {
				return err
			}
			catalog, err := plan.NewCatalog(cmd.Context(), plan.NewYAMLSource(cfg.PlanCatalogPath))
			if err != nil {
				return err
			}

			plans := catalog.Public()
			sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRICE\tDOWN-PAYMENT\tCURRENCY")
			for _, p := range plans {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", p.ID, p.Name, p.Price.Amount, p.Downpayment.Amount, p.Price.Currency)
			}
			return w.Flush()
		},
	}
}
