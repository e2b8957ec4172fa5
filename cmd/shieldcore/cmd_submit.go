package main

// ---------------------------------------------------------------------------
// cmd_submit.go — submit threats and trigger cycles on a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/1sec-project/shieldcore/internal/core"
)

func cmdSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	remote := addRemoteFlags(fs)
	threatType := fs.String("type", "", "Threat type (required)")
	level := fs.String("level", "MEDIUM", "Threat level: LOW, MEDIUM, HIGH, CRITICAL")
	id := fs.String("id", "", "Explicit threat ID (deduplicated by the engine)")
	source := fs.String("source", "cli", "Threat source")
	summary := fs.String("summary", "", "Free-form summary")
	now := fs.Bool("now", false, "Run a cycle immediately after submitting")
	fs.Parse(args)

	sub := core.ThreatSubmission{
		ID:      *id,
		Type:    *threatType,
		Level:   *level,
		Source:  *source,
		Summary: *summary,
	}
	// Validate locally so typos fail before a round trip.
	if _, err := sub.ToEvent(); err != nil {
		errorf("invalid threat: %v", err)
	}

	payload, _ := json.Marshal(sub)
	client := remote.client()
	body, err := client.post("/api/v1/threats", payload)
	if err != nil {
		errorf("%v", err)
	}

	var res struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &res); err == nil {
		fmt.Fprintf(os.Stdout, "%s threat %s %s\n", green("✓"), res.ID, res.Status)
	}

	if *now {
		runRemoteCycle(client, false)
	}
}

func cmdCycle(args []string) {
	fs := flag.NewFlagSet("cycle", flag.ExitOnError)
	remote := addRemoteFlags(fs)
	rotate := fs.Bool("rotate", false, "Force a frequency rotation before the cycle")
	fs.Parse(args)

	runRemoteCycle(remote.client(), *rotate)
}

func runRemoteCycle(client apiClient, rotate bool) {
	if rotate {
		if _, err := client.post("/api/v1/rotate", []byte("{}")); err != nil {
			errorf("rotation failed: %v", err)
		}
	}
	body, err := client.post("/api/v1/cycle", []byte("{}"))
	if err != nil {
		errorf("%v", err)
	}

	var resp struct {
		Status map[string]interface{} `json:"status"`
		Error  string                 `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	if resp.Error != "" {
		warnf("cycle finished with errors: %s", resp.Error)
	}
	st := resp.Status
	fmt.Fprintf(os.Stdout, "%s cycle %s: %s, integrity %s, block rate %s (%s evaluated, %s blocked)\n",
		green("✓"), num(st["cycle"]), healthColor(fmt.Sprintf("%v", st["shield_health"])),
		pct(st["overall_integrity"]), pct(st["block_rate"]),
		num(st["threats_evaluated"]), num(st["threats_blocked"]))
}
