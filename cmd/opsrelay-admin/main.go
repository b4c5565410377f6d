// ABOUTME: Admin CLI for inspecting opsrelay delivery state
// ABOUTME: Reads the delivery log, status cache slot, and session artifacts from disk

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/mitrasat/opsrelay/internal/session"
	"github.com/mitrasat/opsrelay/internal/statuscache"
	"github.com/mitrasat/opsrelay/internal/store"
)

const banner = `
                           _
  ___  _ __  ___ _ __ ___| | __ _ _   _
 / _ \| '_ \/ __| '__/ _ \ |/ _' | | | |
| (_) | |_) \__ \ | |  __/ | (_| | |_| |
 \___/| .__/|___/_|  \___|_|\__,_|\__, |
      |_|                         |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := loadConfig(configPath())
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "log":
		err = cmdLog(cfg, args)
	case "stats":
		err = cmdStats(cfg)
	case "cache":
		err = cmdCache(cfg)
	case "clean-session":
		err = cmdCleanSession(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: opsrelay-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  log [n]                  Show the n most recent delivery outcomes (default 20)")
	fmt.Println("  stats                    Show delivery counts grouped by status")
	fmt.Println("  cache                    Show the status cache slot and its age")
	fmt.Println("  clean-session <number>   Delete the session artifacts for a recipient")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  OPSRELAY_ADMIN_CONFIG    Config path (default: ~/.config/opsrelay/admin.toml)")
	fmt.Println()
}

func cmdLog(cfg *Config, args []string) error {
	limit := 20
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil {
			return fmt.Errorf("invalid limit %q", args[0])
		}
	}

	dlog, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer dlog.Close()

	entries, err := dlog.Recent(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No delivery entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRECIPIENT\tSTATUS\tATTEMPTS\tERROR")
	for _, e := range entries {
		errText := e.ErrorText
		if len(errText) > 60 {
			errText = errText[:60] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Recipient,
			e.Status,
			e.Attempts,
			errText,
		)
	}
	return w.Flush()
}

func cmdStats(cfg *Config) error {
	dlog, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer dlog.Close()

	counts, err := dlog.CountsByStatus(context.Background())
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Println("No delivery entries.")
		return nil
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, c := range counts {
		switch c.Status {
		case "sent":
			green.Printf("  sent     %d\n", c.Count)
		case "blocked":
			yellow.Printf("  blocked  %d\n", c.Count)
		default:
			red.Printf("  %-8s %d\n", c.Status, c.Count)
		}
	}
	return nil
}

func cmdCache(cfg *Config) error {
	cache := statuscache.New(cfg.Cache.Path, statuscache.Options{}, nil)

	ts, data, ok := cache.Entry()
	if !ok {
		fmt.Println("Status cache is empty.")
		return nil
	}

	cyan := color.New(color.FgCyan)
	fmt.Printf("Fetched:  ")
	cyan.Println(ts.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Age:      %s\n", time.Since(ts).Round(time.Second))
	fmt.Printf("Payload:  %d bytes\n", len(data))
	return nil
}

func cmdCleanSession(cfg *Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: opsrelay-admin clean-session <number>")
	}

	manager := session.NewManager(cfg.Session.Dir, session.Options{}, nil)
	if manager.CleanSession(args[0]) {
		color.Green("Session artifacts removed for %s\n", args[0])
	} else {
		fmt.Printf("Nothing to clean for %s\n", args[0])
	}
	return nil
}
