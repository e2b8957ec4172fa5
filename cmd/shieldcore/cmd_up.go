package main

// ---------------------------------------------------------------------------
// cmd_up.go — start the shieldcore engine and API
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"github.com/1sec-project/shieldcore/internal/api"
	"github.com/1sec-project/shieldcore/internal/core"
	"github.com/1sec-project/shieldcore/internal/ingest"
)

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	dryRun := fs.Bool("dry-run", false, "Validate config, print the plan and exit")
	quiet := fs.Bool("quiet", false, "Suppress banner and non-essential output")
	fs.BoolVar(quiet, "q", false, "Suppress banner and non-essential output")
	noColor := fs.Bool("no-color", false, "Disable color output")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	if *noColor {
		os.Setenv("NO_COLOR", "1")
	}
	if !*quiet {
		fmt.Fprint(os.Stderr, bannerText())
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	warnings, validationErrs := cfg.Validate()
	if !*quiet {
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), w)
		}
	}
	if len(validationErrs) > 0 {
		for _, e := range validationErrs {
			fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), e)
		}
		errorf("config validation failed with %d error(s)", len(validationErrs))
	}

	if !cfg.AuthEnabled() && !*quiet {
		fmt.Fprintf(os.Stderr, "%s No API keys configured. Every endpoint, including shutdown, is open.\n", yellow("⚠"))
		fmt.Fprintf(os.Stderr, "    Set server.api_keys in config or SHIELDCORE_API_KEY.\n")
	}

	if *dryRun {
		fmt.Fprintf(os.Stdout, "%s Config valid. API on %s:%d, cycle every %s, bus %s, syslog %s, %d feed(s).\n",
			green("✓"), cfg.Server.Host, cfg.Server.Port, cfg.Shield.CycleInterval,
			onOff(cfg.Bus.Enabled), onOff(cfg.Syslog.Enabled), len(cfg.Feeds))
		os.Exit(0)
	}

	engine, err := core.NewEngine(cfg)
	if err != nil {
		errorf("creating engine: %v", err)
	}
	engine.SetConfigPath(*configPath)

	if cfg.Syslog.Enabled {
		syslogSrv := ingest.NewSyslogServer(cfg.Syslog, engine, engine.Logger)
		if err := engine.Components.Register(syslogSrv); err != nil {
			errorf("registering syslog listener: %v", err)
		}
	}
	for _, fc := range cfg.Feeds {
		if err := engine.Components.Register(ingest.NewFeedTailer(fc, engine, engine.Logger)); err != nil {
			errorf("registering feed %s: %v", fc.Path, err)
		}
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s Starting shieldcore engine...\n", dim("▸"))
	}
	if err := engine.Start(); err != nil {
		errorf("starting engine: %v", err)
	}

	srv := api.NewServer(engine)
	if err := srv.Start(); err != nil {
		engine.Shutdown()
		errorf("starting API server: %v", err)
	}

	if !*quiet {
		st := engine.Shield.Status()
		fmt.Fprintf(os.Stderr, "%s shieldcore running with %d layers, %d emitters, API on :%d\n",
			green("✓"), st.TotalLayers, st.ActiveEmitters, cfg.Server.Port)
		if cfg.Syslog.Enabled {
			fmt.Fprintf(os.Stderr, "%s Syslog ingestion on :%d (%s)\n",
				green("✓"), cfg.Syslog.Port, cfg.Syslog.Protocol)
		}
		for _, fc := range cfg.Feeds {
			fmt.Fprintf(os.Stderr, "%s Following threat feed %s\n", green("✓"), fc.Path)
		}
		fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop, send SIGHUP to reload config\n", dim("▸"))
	}

	engine.WaitForSignal()

	if !*quiet {
		fmt.Fprintf(os.Stderr, "\n%s Shutting down...\n", dim("▸"))
	}
	if err := srv.Stop(); err != nil {
		warnf("stopping API server: %v", err)
	}
	engine.Shutdown()

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s shieldcore stopped.\n", green("✓"))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
