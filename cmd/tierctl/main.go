package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/repository"
)

var (
	rootCmd = &cobra.Command{
		Use:   "tierctl",
		Short: "Operate a tiered cache deployment",
		Long: `Operate a tiered cache deployment: import the product catalog and
inspect or repair retrieval orders directly in the database.`,
		SilenceUsage: true,
	}

	configPath string
	outputJSON bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print results as JSON")
}

func main() {
	logger.SetDefaultLogger(logger.New(&logger.Config{
		Level:       "warn",
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "tierctl",
	}))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// openDB loads the configuration and connects to the database.
func openDB() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}
	return cfg, db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(b))
	return nil
}
