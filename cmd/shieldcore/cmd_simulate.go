package main

// ---------------------------------------------------------------------------
// cmd_simulate.go — seeded in-process cycles, no API or bus
// ---------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/1sec-project/shieldcore/internal/core"
	"github.com/1sec-project/shieldcore/internal/shield"
)

// cycleSummary is one row of simulate output.
type cycleSummary struct {
	Cycle     uint64        `json:"cycle"`
	Submitted int           `json:"submitted"`
	Evaluated int           `json:"threats_evaluated"`
	Blocked   int           `json:"threats_blocked"`
	Spikes    int           `json:"spikes_fired"`
	Health    shield.Health `json:"shield_health"`
	Integrity float64       `json:"overall_integrity"`
	BlockRate float64       `json:"block_rate"`
}

func cmdSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path for engine tunables")
	cycles := fs.Int("cycles", 10, "Number of cycles to run")
	threats := fs.Int("threats", 20, "Random threats per cycle")
	seed := fs.Uint64("seed", 42, "Seed for threat generation and the engine")
	traceFile := fs.String("trace-file", "", "Append evaluated threats to this JSONL file")
	verbose := fs.Bool("verbose", false, "Show engine logs on stderr")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Shorthand for --format json")
	fs.Parse(args)

	if *jsonOut {
		*format = "json"
	}
	if *cycles < 1 || *threats < 0 {
		errorf("--cycles must be at least 1 and --threats non-negative")
	}

	cfg, err := core.LoadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}
	prepareSimulationConfig(cfg, *seed, *threats, *traceFile)

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	engine, err := core.NewEngine(cfg, core.WithLogOutput(logOut))
	if err != nil {
		errorf("creating engine: %v", err)
	}
	if err := engine.Start(); err != nil {
		errorf("starting engine: %v", err)
	}
	defer engine.Shutdown()

	summaries, final, err := runSimulation(engine, *cycles, *threats, *seed)
	if err != nil {
		errorf("simulation: %v", err)
	}
	writeSimulation(os.Stdout, parseFormat(*format), *seed, summaries, final)
}

// prepareSimulationConfig isolates a simulation from the outside world:
// no bus, no webhooks, a deterministic seed and a scheduler that never
// fires on its own.
func prepareSimulationConfig(cfg *core.Config, seed uint64, perCycle int, traceFile string) {
	cfg.Bus.Enabled = false
	cfg.Webhooks.URLs = nil
	cfg.Shield.Seed = seed
	cfg.Shield.TraceFile = traceFile
	cfg.Shield.CycleInterval = 24 * time.Hour
	cfg.Shield.MaxBatch = max(cfg.Shield.MaxBatch, perCycle+1)
	cfg.Logging.Format = "console"
}

// generateThreats draws n threats with uniformly chosen types and levels.
func generateThreats(src shield.Source, cycle, n int) []shield.ThreatEvent {
	types := shield.ThreatTypes()
	levels := []shield.ThreatLevel{shield.LevelLow, shield.LevelMedium, shield.LevelHigh, shield.LevelCritical}
	out := make([]shield.ThreatEvent, n)
	for i := range out {
		out[i] = shield.ThreatEvent{
			ID:        fmt.Sprintf("sim-%d-%d", cycle, i),
			Type:      types[int(src.Float64()*float64(len(types)))],
			Level:     levels[int(src.Float64()*float64(len(levels)))],
			Source:    "simulate",
			Timestamp: time.Now().UTC(),
		}
	}
	return out
}

func runSimulation(engine *core.Engine, cycles, perCycle int, seed uint64) ([]cycleSummary, shield.ShieldStatus, error) {
	src := shield.NewSeededSource(seed ^ 0x5eed)
	summaries := make([]cycleSummary, 0, cycles)
	var last shield.ShieldStatus

	for c := 1; c <= cycles; c++ {
		batch := generateThreats(src, c, perCycle)
		for _, ev := range batch {
			if err := engine.SubmitThreat(ev); err != nil {
				return summaries, last, fmt.Errorf("cycle %d: %w", c, err)
			}
		}
		st, err := engine.Scheduler.RunNow(context.Background())
		if err != nil {
			return summaries, st, fmt.Errorf("cycle %d: %w", c, err)
		}
		last = st
		summaries = append(summaries, cycleSummary{
			Cycle:     st.Cycle,
			Submitted: len(batch),
			Evaluated: st.ThreatsEvaluated,
			Blocked:   st.ThreatsBlocked,
			Spikes:    st.SpikesFired,
			Health:    st.Health,
			Integrity: st.OverallIntegrity,
			BlockRate: st.BlockRate,
		})
	}
	return summaries, last, nil
}

func writeSimulation(w io.Writer, outFmt OutputFormat, seed uint64, summaries []cycleSummary, final shield.ShieldStatus) {
	if outFmt == FormatJSON {
		data, _ := json.MarshalIndent(map[string]interface{}{
			"seed":   seed,
			"cycles": summaries,
			"final":  final,
		}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	tbl := NewTable(w, "CYCLE", "SUBMITTED", "EVALUATED", "BLOCKED", "SPIKES", "HEALTH", "INTEGRITY", "BLOCK RATE")
	for _, s := range summaries {
		tbl.AddRow(
			fmt.Sprintf("%d", s.Cycle),
			fmt.Sprintf("%d", s.Submitted),
			fmt.Sprintf("%d", s.Evaluated),
			fmt.Sprintf("%d", s.Blocked),
			fmt.Sprintf("%d", s.Spikes),
			string(s.Health),
			pct(s.Integrity),
			pct(s.BlockRate),
		)
	}
	tbl.WriteAs(outFmt)
	if outFmt == FormatCSV {
		return
	}

	fmt.Fprintln(w)
	// Round-trip through JSON so the final snapshot renders like a live
	// instance's status.
	data, _ := json.Marshal(map[string]interface{}{"version": version, "state": "simulated", "shield": final})
	var status map[string]interface{}
	_ = json.Unmarshal(data, &status)
	renderStatus(w, status, FormatTable)
}
