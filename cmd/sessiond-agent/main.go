// Command sessiond-agent runs the single-writer broker: it owns the
// SQLite database exclusively, accepts client connections on a Unix
// socket, watches transcript files for changes, and fans out push
// events. Clients normally never invoke this directly — the
// agentclient package launches it on first connect — but it can also
// be run by hand for debugging.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/localsession/sessiond/internal/agent"
)

func main() {
	dataDir := flag.String("data-dir", "", "override the default data directory (~/.sessiond)")
	flag.Parse()

	cfg := agent.DefaultConfig()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	a, err := agent.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiond-agent: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		log.Fatalf("sessiond-agent: %v", err)
	}
}
