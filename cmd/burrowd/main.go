// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wingedpig/burrow/internal/app"
)

var (
	version = "0.42"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		stateDir    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.StringVar(&stateDir, "state", "", "State directory (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("burrowd %s\n", version)
		os.Exit(0)
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		StateDir:   stateDir,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "burrowd init" command.
func runInit() error {
	configFile := "burrow.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	if err := os.WriteFile(configFile, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit burrow.hjson as needed")
	fmt.Println("  2. Run: burrowd")

	return nil
}

const configTemplate = `{
  // ===========================================================================
  // Burrow Configuration
  // ===========================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).
  // Every setting below shows its default; the daemon runs fine with an
  // empty file.

  server: {
    // The daemon listens on loopback only.
    host: "127.0.0.1"
    port: 4411
  }

  state: {
    // Where projects, environments, sessions, and terminal buffers persist.
    // dir: "~/.burrow"
  }

  worktree: {
    // Where worktrees for Local environments are created.
    // base_dir: "<state dir>/worktrees"
  }

  container: {
    // Image used for new Containerized environments.
    image: "burrow-env:latest"
    cpus: 2
    memory_mb: 4096
    stop_grace_seconds: 10

    // Host directories bind-mounted read-only into each container,
    // e.g. agent credential directories.
    // credential_mounts: ["~/.claude"]
  }

  supervisor: {
    // Health polling for the native servers of Local environments.
    health_interval: "200ms"
    health_max_attempts: 75

    // Port range the servers are allocated from.
    port_range_start: 14096
    port_range_end: 15096

    // Command lines for the two native servers. "{port}" is replaced
    // with the allocated port.
    // agent_command: ["burrow-agent", "serve", "--port", "{port}"]
    // bridge_command: ["burrow-bridge", "serve", "--port", "{port}"]
  }

  events: {
    history: {
      max_events: 1000
      max_age: "1h"
    }
  }
}
`
