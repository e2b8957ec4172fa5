package main

// ---------------------------------------------------------------------------
// banner.go — banner, version and usage printing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	goruntime "runtime"
	"runtime/debug"
)

func bannerText() string {
	art := `
    ╔══════════════════════════════════════════════════╗
    ║                                                  ║
    ║   ███████╗██╗  ██╗██╗███████╗██╗     ██████╗     ║
    ║   ██╔════╝██║  ██║██║██╔════╝██║     ██╔══██╗    ║
    ║   ███████╗███████║██║█████╗  ██║     ██║  ██║    ║
    ║   ╚════██║██╔══██║██║██╔══╝  ██║     ██║  ██║    ║
    ║   ███████║██║  ██║██║███████╗███████╗██████╔╝    ║
    ║   ╚══════╝╚═╝  ╚═╝╚═╝╚══════╝╚══════╝╚═════╝     ║
    ║                                                  ║
    ║        LAYERED ADAPTIVE DEFENSE ENGINE           ║
    ║                                                  ║
    ╚══════════════════════════════════════════════════╝
`
	if !colorEnabled() {
		return art
	}
	return "\033[36m" + art + "\033[0m"
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "shieldcore v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

type commandHelp struct {
	name    string
	summary string
	usage   string
	flags   [][2]string
}

var commands = []commandHelp{
	{"up", "Start the shield engine, cycle scheduler and API", "shieldcore up [--config path] [--log-level lvl] [--dry-run] [--quiet]",
		[][2]string{{"--config", "Config file path"}, {"--log-level", "debug, info, warn, error"}, {"--dry-run", "Validate config, print the plan and exit"}, {"--quiet, -q", "Suppress banner and progress output"}}},
	{"status", "Show the shield status of a running instance", "shieldcore status [--format table|json|csv]",
		[][2]string{{"--format", "Output format"}, {"--json", "Shorthand for --format json"}, {"--output", "Write output to file"}}},
	{"layers", "List layers, or inspect one with --phase", "shieldcore layers [--phase alpha] [--format table|json|csv]",
		[][2]string{{"--phase", "Show a single layer with its emitters and modulators"}, {"--format", "Output format"}}},
	{"submit", "Submit a threat for the next cycle", "shieldcore submit --type ddos [--level HIGH] [--source s] [--summary text]",
		[][2]string{{"--type", "Threat type"}, {"--level", "LOW, MEDIUM, HIGH, CRITICAL"}, {"--id", "Explicit threat ID for deduplication"}, {"--now", "Run a cycle right after submitting"}}},
	{"cycle", "Run a cycle immediately on a running instance", "shieldcore cycle [--rotate]",
		[][2]string{{"--rotate", "Force a frequency rotation before the cycle"}}},
	{"simulate", "Run seeded cycles in-process and print the result", "shieldcore simulate [--cycles 10] [--threats 20] [--seed 42]",
		[][2]string{{"--cycles", "Number of cycles"}, {"--threats", "Random threats per cycle"}, {"--seed", "Seed for threats and the engine"}, {"--format", "Output format"}}},
	{"reload", "Ask a running instance to reload its config", "shieldcore reload", nil},
	{"stop", "Gracefully stop a running instance", "shieldcore stop", nil},
	{"config", "Show, validate, or initialize configuration", "shieldcore config [--validate] [--init path] [--json]",
		[][2]string{{"--validate", "Validate and exit"}, {"--init", "Write the default config to a file"}, {"--json", "Print as JSON instead of YAML"}}},
	{"version", "Print version and build info", "shieldcore version", nil},
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  shieldcore <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s  %s\n", bold(c.name), c.summary)
	}
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (default: "+defaultConfigPath+", env: SHIELDCORE_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--host, --port", "API address overrides (env: SHIELDCORE_HOST, SHIELDCORE_PORT)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--api-key <key>", "API key (env: SHIELDCORE_API_KEY)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Start with defaults"))
	fmt.Fprintf(w, "  shieldcore up\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Push a threat and evaluate it right away"))
	fmt.Fprintf(w, "  shieldcore submit --type ddos --level CRITICAL --now\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Reproducible offline run"))
	fmt.Fprintf(w, "  shieldcore simulate --cycles 50 --seed 7 --format json\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("shieldcore help <command>"))
}

// cmdHelp prints help for one command, or the general usage when the name
// is unknown.
func cmdHelp(w io.Writer, name string) {
	for _, c := range commands {
		if c.name != name {
			continue
		}
		fmt.Fprintf(w, "%s %s\n\n", bold(c.name), c.summary)
		fmt.Fprintf(w, "%s\n\n  %s\n", bold("USAGE"), c.usage)
		if len(c.flags) > 0 {
			fmt.Fprintf(w, "\n%s\n\n", bold("FLAGS"))
			for _, f := range c.flags {
				fmt.Fprintf(w, "  %-14s  %s\n", f[0], f[1])
			}
		}
		fmt.Fprintln(w)
		return
	}
	printUsage(w)
}
