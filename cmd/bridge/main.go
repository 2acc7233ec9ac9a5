// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wingedpig/trellis/internal/app"
	"github.com/wingedpig/trellis/internal/config"
)

var version = "0.1"

func main() {
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
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "Diagnostics server host (overrides config)")
	flag.IntVar(&port, "port", 0, "Diagnostics server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("bridge %s\n", version)
		os.Exit(0)
	}

	if configPath == "" {
		loader := config.NewLoader()
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("using config: %s", configPath)

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("app error: %v", err)
	}
}

// runInit handles the "bridge init" command.
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: bridge init [options]

Create a new bridge.hjson configuration file in the current directory.

This command walks you through setting up the chat-to-terminal bridge with
interactive prompts.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Project name (defaults to current directory name)
  - Chat bot token
  - Multiplexer backend (tmux or zellij)
  - Assistant command to run in each window
  - Transcript root directory

After running init:
  1. Review and edit bridge.hjson as needed
  2. Run: ./bridge`)
		return nil
	}

	configFile := "bridge.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Bridge Configuration Setup")
	fmt.Println("==========================")
	fmt.Println()
	fmt.Println("This will create a bridge.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	defaultName := filepath.Base(cwd)

	projectName := prompt(reader, "Project name", defaultName)
	token := prompt(reader, "Chat bot token", "")

	backend := prompt(reader, "Multiplexer backend (tmux/zellij)", "tmux")
	if backend != "tmux" && backend != "zellij" {
		backend = "tmux"
	}
	sessionName := prompt(reader, "Multiplexer session name", "bridge")
	assistantCmd := prompt(reader, "Assistant command", "claude")
	transcriptRoot := prompt(reader, "Transcript root directory", filepath.Join(cwd, ".bridge", "projects"))

	portStr := prompt(reader, "Diagnostics server port (0 to disable)", "0")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 0
	}

	configContent := generateConfig(projectName, token, backend, sessionName, assistantCmd, transcriptRoot, port)

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit bridge.hjson as needed")
	fmt.Println("  2. Run: ./bridge")

	return nil
}

func generateConfig(projectName, token, backend, sessionName, assistantCmd, transcriptRoot string, port int) string {
	var diag string
	if port > 0 {
		diag = fmt.Sprintf("%s:%d", "127.0.0.1", port)
	}

	return fmt.Sprintf(`{
  // Project metadata.
  project: {
    name: %s
  }

  // Diagnostics HTTP server (health, status, event stream). Leave
  // diagnostics.listen_addr empty to disable it entirely.
  server: {
    host: "127.0.0.1"
    port: %d
  }
  diagnostics: {
    listen_addr: %s
  }

  // Chat platform credentials and allowed recipients.
  chat: {
    token: %s
    allowed_recipients: []
  }

  // Terminal multiplexer backend.
  multiplexer: {
    backend: %s
    session_name: %s
    main_window: "main"
  }

  // Command launched in each new window.
  assistant: {
    command: %s
  }

  paths: {
    root: %s
    state_dir: ".bridge"
  }

  monitor: {
    poll_interval_s: "2s"
    show_user_messages: false
  }

  browse: {
    start_path: %s
  }

  notify: {
    mode: "full"
  }

  log: {
    level: "info"
    format: "text"
  }
}
`, escapeHJSONValue(projectName), port, escapeHJSONValue(diag), escapeHJSONValue(token),
		escapeHJSONValue(backend), escapeHJSONValue(sessionName), escapeHJSONValue(assistantCmd),
		escapeHJSONValue(transcriptRoot), escapeHJSONValue(transcriptRoot))
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON
// double-quoted value and wraps it in quotes.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
