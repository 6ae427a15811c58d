package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"shiftcal/internal/app"
	"shiftcal/internal/calsync"
	"shiftcal/internal/config"
	"shiftcal/internal/gcal"
	"shiftcal/internal/grid"
	"shiftcal/internal/ics"
	appLog "shiftcal/internal/log"
	"shiftcal/internal/reconcile"
	"shiftcal/internal/scrape"
	"shiftcal/internal/store"
	"shiftcal/internal/web"
)

const version = "0.1.0"

func main() {
	cmd := &cli.Command{
		Name:    "shiftcal",
		Usage:   "Mirror a work schedule into a Google calendar",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.DefaultPath,
				Sources: cli.EnvVars("SHIFTCAL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address (overrides config if set)",
			},
		},
		Action: runService,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the scheduler and the status API until interrupted",
				Action: runService,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-initial-fetch",
						Usage: "Wait for the first scheduled fetch instead of fetching at startup",
					},
				},
			},
			{
				Name:   "once",
				Usage:  "Run one fetch cycle (scrape, reconcile, sync) and exit",
				Action: runOnce,
			},
			{
				Name:   "sync",
				Usage:  "Push pending changes to the calendar and exit",
				Action: runSync,
			},
			{
				Name:  "export",
				Usage: "Write active events as an iCalendar feed",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file, - for stdout",
						Value:   "-",
					},
				},
				Action: runExport,
			},
		},
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := cmd.Run(ctx, os.Args); err != nil {
		appLog.Error("shiftcal failed", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies CLI overrides and sets the log
// level. Full validation is requested by commands that talk to the site or
// the calendar.
func loadConfig(cmd *cli.Command, validate bool) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if listen := cmd.String("listen"); listen != "" {
		cfg.Listen = listen
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	}

	appLog.Info("effective config",
		"config_path", path,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"store", cfg.Store.Path,
		"calendar", cfg.Calendar.Name,
		"fetch", cfg.Schedule.Fetch,
		"sync", cfg.Schedule.Sync,
		"months_ahead", cfg.Schedule.MonthsAhead,
	)
	return cfg, nil
}

// components holds everything a fetch or sync cycle needs.
type components struct {
	cfg     *config.Config
	loc     *time.Location
	store   *store.Store
	service *app.Service
}

func (c *components) Close() {
	if err := c.store.Close(); err != nil {
		appLog.Error("failed to close store", err)
	}
}

func setup(ctx context.Context, cmd *cli.Command) (*components, error) {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	client, err := gcal.New(ctx, gcal.Credentials{
		File:       cfg.Calendar.CredentialsFile,
		Email:      cfg.Calendar.ServiceAccountEmail,
		PrivateKey: cfg.Calendar.PrivateKey,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	scraper := scrape.New(scrape.Options{
		URL:             cfg.Site.URL,
		Identifier:      cfg.Site.Identifier,
		Password:        cfg.Site.Password,
		Profile:         cfg.Site.Profile,
		ExecPath:        cfg.Site.ChromePath,
		Headless:        !cfg.Site.ShowBrowser,
		ResponseTimeout: cfg.Site.ResponseTimeout,
		SessionTimeout:  cfg.Site.SessionTimeout,
	})
	driver := calsync.NewDriver(client, st, calsync.Options{
		CalendarName: cfg.Calendar.Name,
		OwnerEmail:   cfg.Calendar.OwnerEmail,
		Location:     loc,
	})
	svc := app.New(scraper, grid.NewDecoder(cfg.Calendar.ShiftLabel), reconcile.NewEngine(st, nil), driver, app.Options{
		Location:    loc,
		MonthsAhead: cfg.Schedule.MonthsAhead,
	})

	return &components{cfg: cfg, loc: loc, store: st, service: svc}, nil
}

func runService(ctx context.Context, cmd *cli.Command) error {
	appLog.Info("shiftcal starting", "version", version)

	c, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	opts := app.RunOptions{
		FetchSpec:    c.cfg.Schedule.Fetch,
		SyncSpec:     c.cfg.Schedule.Sync,
		FetchOnStart: !cmd.Bool("no-initial-fetch"),
	}
	if c.cfg.Listen != "" {
		opts.HTTP = web.NewServer(c.store, c.service, web.Options{
			Listen:       c.cfg.Listen,
			BasicAuth:    c.cfg.BasicAuth,
			Location:     c.loc,
			CalendarName: c.cfg.Calendar.Name,
		})
	}

	err = c.service.Run(ctx, opts)
	appLog.Info("shiftcal exiting")
	return err
}

func runOnce(ctx context.Context, cmd *cli.Command) error {
	c, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = c.service.FetchCycle(ctx)
	return err
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	c, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = c.service.SyncCycle(ctx)
	return err
}

func runExport(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.Active(ctx)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if path := cmd.String("output"); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := ics.Write(out, events, ics.Options{Name: cfg.Calendar.Name, Location: loc}); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	appLog.Info("export done", "events", len(events), "output", cmd.String("output"))
	return nil
}
