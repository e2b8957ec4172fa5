package main

// ---------------------------------------------------------------------------
// cmd_status.go — shield status and layer inspection of a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	remote := addRemoteFlags(fs)
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	body, err := remote.client().get("/api/v1/status")
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if outFmt == FormatJSON {
		writeIndentedJSON(w, body)
		return
	}

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		errorf("parsing response: %v", err)
	}
	renderStatus(w, status, outFmt)
}

// renderStatus prints the /api/v1/status payload as a summary and a layer
// table, or as field/value CSV.
func renderStatus(w io.Writer, status map[string]interface{}, outFmt OutputFormat) {
	sh, _ := status["shield"].(map[string]interface{})
	if sh == nil {
		sh = map[string]interface{}{}
	}

	if outFmt == FormatCSV {
		rows := [][]string{
			{"version", fmt.Sprintf("%v", status["version"])},
			{"state", fmt.Sprintf("%v", status["state"])},
			{"cycle", num(sh["cycle"])},
			{"shield_health", fmt.Sprintf("%v", sh["shield_health"])},
			{"overall_integrity", num(sh["overall_integrity"])},
			{"block_rate", num(sh["block_rate"])},
			{"threats_evaluated", num(sh["threats_evaluated"])},
			{"threats_blocked", num(sh["threats_blocked"])},
			{"spikes_fired", num(sh["spikes_fired"])},
		}
		writeCSV(w, []string{"field", "value"}, rows)
		return
	}

	fmt.Fprintf(w, "%s shieldcore status\n\n", bold("●"))
	fmt.Fprintf(w, "  %-20s %v\n", "Version:", status["version"])
	fmt.Fprintf(w, "  %-20s %v\n", "State:", status["state"])
	fmt.Fprintf(w, "  %-20s %ss\n", "Uptime:", num(status["uptime_secs"]))
	fmt.Fprintf(w, "  %-20s %v\n", "Bus Connected:", status["bus_connected"])
	fmt.Fprintf(w, "  %-20s %s\n", "Pending Threats:", num(status["pending"]))
	fmt.Fprintf(w, "  %-20s %s\n", "Cycle:", num(sh["cycle"]))
	fmt.Fprintf(w, "  %-20s %s\n", "Health:", healthColor(fmt.Sprintf("%v", sh["shield_health"])))
	fmt.Fprintf(w, "  %-20s %s\n", "Integrity:", pct(sh["overall_integrity"]))
	fmt.Fprintf(w, "  %-20s %s\n", "Block Rate:", pct(sh["block_rate"]))
	fmt.Fprintf(w, "  %-20s %s / %s / %s\n", "Evaluated/Det/Blk:",
		num(sh["threats_evaluated"]), num(sh["threats_detected"]), num(sh["threats_blocked"]))
	fmt.Fprintf(w, "  %-20s %s\n", "Spikes Fired:", num(sh["spikes_fired"]))
	fmt.Fprintln(w)

	if layers, ok := sh["layers"].([]interface{}); ok && len(layers) > 0 {
		tbl := NewTable(w, "PHASE", "INTEGRITY", "STRENGTH", "FREQ", "AMP", "BREACHES", "EMITTERS")
		for _, l := range layers {
			ly, _ := l.(map[string]interface{})
			tbl.AddRow(
				fmt.Sprintf("%v", ly["phase"]),
				pct(ly["integrity"]),
				pct(ly["strength"]),
				num(ly["frequency"]),
				num(ly["amplitude"]),
				num(ly["breach_count"]),
				num(ly["emitters"]),
			)
		}
		tbl.Render()
	}
}

func cmdLayers(args []string) {
	fs := flag.NewFlagSet("layers", flag.ExitOnError)
	remote := addRemoteFlags(fs)
	phase := fs.String("phase", "", "Show a single layer")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	fs.Parse(args)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)
	client := remote.client()

	path := "/api/v1/layers"
	if *phase != "" {
		path += "/" + strings.ToLower(*phase)
	}
	body, err := client.get(path)
	if err != nil {
		errorf("%v", err)
	}
	if outFmt == FormatJSON {
		writeIndentedJSON(os.Stdout, body)
		return
	}

	if *phase != "" {
		var layer map[string]interface{}
		if err := json.Unmarshal(body, &layer); err != nil {
			errorf("parsing response: %v", err)
		}
		renderLayerDetail(os.Stdout, layer, outFmt)
		return
	}

	var resp struct {
		Layers []map[string]interface{} `json:"layers"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	tbl := NewTable(os.Stdout, "PHASE", "INTEGRITY", "STRENGTH", "FREQ", "AMP", "BREACHES", "EMITTERS", "MODULATORS")
	for _, l := range resp.Layers {
		ems, _ := l["emitters"].([]interface{})
		mods, _ := l["modulators"].([]interface{})
		tbl.AddRow(
			fmt.Sprintf("%v", l["phase"]),
			pct(l["integrity"]),
			pct(l["strength"]),
			num(l["frequency"]),
			num(l["amplitude"]),
			num(l["breach_count"]),
			fmt.Sprintf("%d", len(ems)),
			fmt.Sprintf("%d", len(mods)),
		)
	}
	tbl.WriteAs(outFmt)
}

func renderLayerDetail(w io.Writer, layer map[string]interface{}, outFmt OutputFormat) {
	if outFmt != FormatCSV {
		fmt.Fprintf(w, "%s layer %v\n\n", bold("●"), layer["phase"])
		fmt.Fprintf(w, "  %-12s %s\n", "Integrity:", pct(layer["integrity"]))
		fmt.Fprintf(w, "  %-12s %s\n", "Strength:", pct(layer["strength"]))
		fmt.Fprintf(w, "  %-12s %s\n", "Frequency:", num(layer["frequency"]))
		fmt.Fprintf(w, "  %-12s %s\n", "Amplitude:", num(layer["amplitude"]))
		fmt.Fprintf(w, "  %-12s %s\n\n", "Breaches:", num(layer["breach_count"]))
	}

	tbl := NewTable(w, "KIND", "ID", "TYPE", "POWER/FREQ", "RANGE/AMP", "ACTIVE", "TARGETS")
	ems, _ := layer["emitters"].([]interface{})
	for _, e := range ems {
		em, _ := e.(map[string]interface{})
		targets, _ := em["target_threat_types"].([]interface{})
		names := make([]string, 0, len(targets))
		for _, t := range targets {
			names = append(names, fmt.Sprintf("%v", t))
		}
		tbl.AddRow("emitter", shortID(em["id"]), fmt.Sprintf("%v", em["emission_type"]),
			num(em["power"]), num(em["range"]), fmt.Sprintf("%v", em["active"]), strings.Join(names, ","))
	}
	mods, _ := layer["modulators"].([]interface{})
	for _, m := range mods {
		md, _ := m.(map[string]interface{})
		tbl.AddRow("modulator", shortID(md["id"]), fmt.Sprintf("%v", md["kind"]),
			num(md["frequency_shift"]), num(md["amplitude_shift"]), fmt.Sprintf("%v", md["active"]), "")
	}
	tbl.WriteAs(outFmt)
}

func shortID(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	return s[:min(8, len(s))]
}
