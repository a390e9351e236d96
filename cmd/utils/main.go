package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/appetiteclub/edge/cmd/utils/internal/commands"
	"github.com/aquamarinepk/aqm"
	"github.com/joho/godotenv"
)

const (
	appName    = "edge-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	// Same namespace as the service so both resolve the same database.
	config, err := aqm.LoadConfig("EDGE", os.Args[2:])
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel, _ := config.GetString("log.level")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := aqm.NewLogger(logLevel)

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "outbox-status":
		if err := commands.OutboxStatus(ctx, config, logger, os.Stdout); err != nil {
			log.Fatalf("Outbox status failed: %v", err)
		}

	case "outbox-flush":
		if err := commands.OutboxFlush(ctx, config, logger); err != nil {
			log.Fatalf("Outbox flush failed: %v", err)
		}

	case "outbox-clear-dead":
		if err := commands.OutboxClearDead(ctx, config, logger); err != nil {
			log.Fatalf("Clearing dead letters failed: %v", err)
		}

	case "migrate":
		if err := commands.Migrate(ctx, config, logger); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}

	case "ticket-log":
		if err := commands.TicketLog(ctx, config, logger, os.Stdout); err != nil {
			log.Fatalf("Reading ticket log failed: %v", err)
		}

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - Appetite edge utility commands

Usage:
  %s <command> [options]

Commands:
  outbox-status      Print queued writes and dead letters
  outbox-flush       Run one delivery pass using the stored sessions
  outbox-clear-dead  Remove all dead letters
  migrate            Apply pending local schema migrations
  ticket-log         Print recent ticket log entries (--area, --table to filter)
  version            Print version information
  help               Show this help message

Environment Variables:
  EDGE_DB_SQLITE_PATH  Local database file (default: data/edge.db)
  EDGE_REMOTE_URL      Remote Appetite base URL
  EDGE_REMOTE_SCOPE    Remote scope the stored sessions must belong to
  EDGE_LOG_LEVEL       Log level: debug, info, warn, error (default: info)

Examples:
  %s outbox-status
  EDGE_REMOTE_URL=https://api.example.com %s outbox-flush
  %s ticket-log --table=12

`, appName, appName, appName, appName, appName)
}
