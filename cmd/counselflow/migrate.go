package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate 解析 --config 后把剩余参数交给 migration.CLI
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}

	// 子命令与位置参数在前，选项在后：migrate steps -1 --config x.yaml
	// 位置参数可能是负数，因此选项只识别 "--" 前缀
	positional := []string{args[0]}
	rest := args[1:]
	for len(rest) > 0 && !strings.HasPrefix(rest[0], "--") {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	sub := positional[0]
	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(rest)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	m, err := migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migration.NewCLI(m).Run(ctx, append(positional, fs.Args()...)); err != nil {
		logger.Error("migration failed", zap.String("command", sub), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", sub, err)
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  counselflow migrate <subcommand> [args] [--config <path>]

Subcommands:
  up          Apply all pending migrations
  down        Roll back all migrations
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  status      Show migration status
  version     Show current migration version

Examples:
  counselflow migrate up --config /etc/counselflow/config.yaml
  counselflow migrate steps -1
  counselflow migrate force 1`)
}
