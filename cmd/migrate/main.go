package main

import (
	"context"
	"flag"
	"log"

	"shop-service/config"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

func main() {
	flag.Usage = func() {
		log.Println("usage: migrate [up|down|status|version|redo|reset] [args...]")
	}
	flag.Parse()

	command := "up"
	var args []string
	if flag.NArg() > 0 {
		command = flag.Arg(0)
		args = flag.Args()[1:]
	}

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	db, err := store.NewStore(cfg.Store.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db.GetDB().DB, command, args...); err != nil {
		logger.Fatal("Migration failed", zap.String("command", command), zap.Error(err))
	}
	logger.Info("Migration finished", zap.String("command", command))
}
