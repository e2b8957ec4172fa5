package main

// ---------------------------------------------------------------------------
// cmd_stop.go — stop or reload a running instance via API
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func cmdStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	remote := addRemoteFlags(fs)
	fs.Parse(args)

	client := remote.client()
	if _, err := client.get("/health"); err != nil {
		errorf("cannot reach shieldcore at %s, is it running?", client.base)
	}

	body, err := client.post("/api/v1/shutdown", []byte("{}"))
	if err != nil {
		if isConnectionError(err) {
			fmt.Fprintf(os.Stdout, "%s shieldcore is shutting down.\n", green("✓"))
			return
		}
		errorf("shutdown request failed: %v", err)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Fprintf(os.Stdout, "%s Shutdown signal sent.\n", green("✓"))
		return
	}
	fmt.Fprintf(os.Stdout, "%s %v\n", green("✓"), resp["message"])
}

func cmdReload(args []string) {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	remote := addRemoteFlags(fs)
	fs.Parse(args)

	body, err := remote.client().post("/api/v1/reload", []byte("{}"))
	if err != nil {
		errorf("reload failed: %v", err)
	}
	var resp struct {
		Changes []string `json:"changes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%s Config reloaded\n", green("✓"))
	for _, c := range resp.Changes {
		fmt.Fprintf(os.Stdout, "    %s %s\n", dim("•"), c)
	}
}
