package main

import (
	"context"
	"os"

	"github.com/dvloznov/intranet-sync/internal/config"
	"github.com/dvloznov/intranet-sync/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSONLogs(), Out: os.Stderr})
	ctx := logger.WithContext(context.Background(), log)

	app := &cli.Command{
		Name:  "intranet-sync",
		Usage: "Operate the ADVBox financial sync and the WhatsApp webhook store",
		Commands: []*cli.Command{
			cmdSync(cfg),
			cmdStatus(cfg),
			cmdStop(cfg),
			cmdClassify(),
			cmdToken(cfg),
			cmdMigratePostgres(cfg),
			cmdArchive(cfg),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}
