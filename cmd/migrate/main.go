package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/buildbid/docproc-service/internal/config"
	"github.com/buildbid/docproc-service/internal/database"
	"github.com/buildbid/docproc-service/shared/logger"
	"github.com/joho/godotenv"
)

const usage = `usage: migrate [-config path] <command>

commands:
  up              apply all pending migrations
  down -steps N   roll back N migrations
  version         print the applied schema version`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	fs.Usage = func() { fmt.Fprintln(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateMigrateConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     "stderr",
		TimeFormat: time.RFC3339,
		Service:    "migrate",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	dbURL := cfg.Database.URL()

	switch cmd := fs.Arg(0); cmd {
	case "up":
		if err := database.RunMigrations(dbURL); err != nil {
			return err
		}
		appLogger.Info("Migrations applied")

	case "down":
		downFlags := flag.NewFlagSet("down", flag.ExitOnError)
		steps := downFlags.Int("steps", 1, "Number of migrations to roll back")
		if err := downFlags.Parse(fs.Args()[1:]); err != nil {
			return err
		}
		if err := database.RollbackMigrations(dbURL, *steps); err != nil {
			return err
		}
		appLogger.Info("Migrations rolled back", slog.Int("steps", *steps))

	case "version":
		version, dirty, err := database.Version(dbURL)
		if err != nil {
			return err
		}
		appLogger.Info("Schema version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)

	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	return nil
}
