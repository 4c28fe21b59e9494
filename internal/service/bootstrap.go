package service

import (
	"context"
	"errors"
	"fmt"

	"shop-service/config"
	"shop-service/internal/auth"
	"shop-service/internal/models"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// EnsureAdmin creates the configured superuser if no user has its
// username. It reports whether a user was created.
func EnsureAdmin(ctx context.Context, repo store.Repository, cfg config.BootstrapConfig) (*models.User, bool, error) {
	logger := util.GetLogger()

	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil, false, fmt.Errorf("admin username and password are required")
	}

	existing, err := repo.GetUserByUsername(ctx, cfg.AdminUsername)
	if err == nil {
		logger.Info("Admin user already exists", zap.String("username", existing.Username))
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return nil, false, err
	}

	user := &models.User{
		Username:     cfg.AdminUsername,
		Email:        cfg.AdminEmail,
		PasswordHash: hash,
		IsStaff:      true,
		IsSuperuser:  true,
		IsActive:     true,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with a concurrent bootstrap.
			existing, getErr := repo.GetUserByUsername(ctx, cfg.AdminUsername)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create admin: %w", err)
	}

	logger.Info("Admin user created", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return user, true, nil
}
