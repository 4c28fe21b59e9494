// Command bootstrap creates the admin superuser once, at deploy time.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"shop-service/config"
	"shop-service/internal/auth"
	"shop-service/internal/service"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

func main() {
	printToken := flag.Bool("token", false, "print an access token for the admin")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, created, err := service.EnsureAdmin(ctx, db, cfg.Bootstrap)
	if err != nil {
		logger.Fatal("Admin bootstrap failed", zap.Error(err))
	}
	logger.Info("Admin bootstrap complete", zap.String("username", user.Username), zap.Bool("created", created))

	if *printToken {
		token, err := auth.MintAccessToken(cfg.Auth, time.Now(), auth.Principal{UserID: user.ID, IsStaff: user.IsStaff})
		if err != nil {
			logger.Fatal("Failed to mint token", zap.Error(err))
		}
		fmt.Println(token)
	}
}
