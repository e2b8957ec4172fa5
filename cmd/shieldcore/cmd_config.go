package main

// ---------------------------------------------------------------------------
// cmd_config.go — show, validate, initialize or modify configuration
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/1sec-project/shieldcore/internal/core"
	"gopkg.in/yaml.v3"
)

func cmdConfig(args []string) {
	if len(args) > 0 && args[0] == "set" {
		cmdConfigSet(args[1:])
		return
	}

	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	validate := fs.Bool("validate", false, "Validate config and exit")
	initPath := fs.String("init", "", "Write the default config to this path and exit")
	force := fs.Bool("force", false, "Overwrite an existing file with --init")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	if *initPath != "" {
		if err := initConfig(*initPath, *force); err != nil {
			errorf("%v", err)
		}
		fmt.Fprintf(os.Stdout, "%s Wrote default config to %s\n", green("✓"), *initPath)
		return
	}

	*configPath = envConfig(*configPath)
	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		if *validate {
			fmt.Fprintf(os.Stderr, "%s Config invalid: %v\n", red("✗"), err)
			os.Exit(1)
		}
		errorf("loading config: %v", err)
	}

	if *validate {
		warnings, errs := cfg.Validate()
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), w)
		}
		if len(errs) > 0 {
			fmt.Fprintf(os.Stderr, "%s Config has %d issue(s):\n", red("✗"), len(errs))
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "  - %s\n", e)
			}
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "%s Config valid (%s).\n", green("✓"), *configPath)
		return
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if *jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			errorf("marshaling config: %v", err)
		}
		fmt.Fprintln(w, string(data))
		return
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		errorf("marshaling config: %v", err)
	}
	fmt.Fprint(w, string(data))
}

// initConfig writes the default config to path, creating parent
// directories. An existing file is kept unless force is set.
func initConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, pass --force to overwrite", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return core.SaveConfig(core.DefaultConfig(), path)
}

func cmdConfigSet(args []string) {
	fs := flag.NewFlagSet("config-set", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	fs.Parse(args)

	*configPath = envConfig(*configPath)
	remaining := fs.Args()
	if len(remaining) < 2 {
		errorf("usage: shieldcore config set <key> <value>\n\nExamples:\n  shieldcore config set server.port 8080\n  shieldcore config set shield.block_base 0.7\n  shieldcore config set logging.level debug")
	}
	key, value := remaining[0], remaining[1]

	if err := setConfigValue(*configPath, key, value); err != nil {
		errorf("setting %s: %v", key, err)
	}
	fmt.Fprintf(os.Stdout, "%s Set %s = %s in %s\n", green("✓"), bold(key), value, *configPath)
}

// setConfigValue edits one dotted key in the YAML file at path. The edited
// document must still load as a valid config, otherwise the file is left
// untouched.
func setConfigValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := setNestedValue(raw, strings.Split(key, "."), value); err != nil {
		return err
	}
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	cfg, err := core.LoadConfig(tmp)
	if err == nil {
		if _, errs := cfg.Validate(); len(errs) > 0 {
			err = errs[0]
		}
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("resulting config is invalid: %w", err)
	}
	return os.Rename(tmp, path)
}

func setNestedValue(m map[string]interface{}, path []string, value string) error {
	if len(path) == 0 {
		return fmt.Errorf("empty key path")
	}
	if len(path) == 1 {
		m[path[0]] = parseValue(value)
		return nil
	}

	next, ok := m[path[0]]
	if !ok {
		next = map[string]interface{}{}
		m[path[0]] = next
	}
	nextMap, ok := next.(map[string]interface{})
	if !ok {
		return fmt.Errorf("key %q is not a map", path[0])
	}
	return setNestedValue(nextMap, path[1:], value)
}

// parseValue converts a CLI string to the YAML scalar it most likely means.
func parseValue(s string) interface{} {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strings.Contains(s, ".") {
		return f
	}
	return s
}
