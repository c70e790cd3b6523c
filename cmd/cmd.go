// Package cmd provides CLI commands for the Cymbiose knowledge-base
// service.
//
// Commands:
//   - serve: HTTP JSON API server
//   - migrate: run database migrations and exit
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Execute is the main entry point for the kb CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func runHelp() {
	fmt.Println("kb - Cymbiose clinical knowledge-base curation service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  kb serve [addr]  Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  kb migrate       Apply database migrations and exit")
	fmt.Println("  kb --version     Show version information")
	fmt.Println("  kb --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY       Required for serve: Gemini API key")
	fmt.Println("  DATABASE_URL         Optional: overrides Postgres settings")
	fmt.Println("  POSTGRES_PASSWORD    Optional: Postgres password")
	fmt.Println("  DEBUG                Optional: enable debug logging")
}
