package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"tinypm/backend/internal/config"
	"tinypm/backend/internal/domain"
	"tinypm/backend/internal/storage"
	"tinypm/backend/internal/storage/postgres"
)

// seed-user 在数据库中创建一个带有效订阅的用户，便于本地联调自定义域名流程
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: seed-user <email> <username> [plan]")
		os.Exit(1)
	}

	email := os.Args[1]
	username := domain.NormalizeUsername(os.Args[2])
	plan := "pro"
	if len(os.Args) >= 4 {
		plan = os.Args[3]
	}

	if err := domain.ValidateUsername(username); err != nil {
		fmt.Printf("Invalid username: %v\n", err)
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var store *postgres.Store
	opts := postgres.Options{AutoMigrate: true}
	switch cfg.Database.Type {
	case "postgres", "postgresql":
		store, err = postgres.NewStore(cfg.Database.DSN, opts)
	case "mysql":
		store, err = postgres.NewMySQLStore(cfg.Database.DSN, opts)
	default:
		fmt.Println("DATABASE_TYPE must be postgres or mysql; the memory store does not outlive this process")
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	user, err := store.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		user = &domain.User{
			ID:          uuid.New().String(),
			Email:       email,
			DisplayName: username,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.CreateUser(ctx, user); err != nil {
			fmt.Printf("Failed to create user: %v\n", err)
			os.Exit(1)
		}
	case err != nil:
		fmt.Printf("Failed to look up user: %v\n", err)
		os.Exit(1)
	}

	if user.UsernameValue() != username {
		if err := store.ClaimUsername(ctx, user.ID, username); err != nil {
			fmt.Printf("Failed to claim username: %v\n", err)
			os.Exit(1)
		}
	}

	sub := &domain.Subscription{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Status:    domain.SubscriptionActive,
		Plan:      plan,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.SaveSubscription(ctx, sub); err != nil {
		fmt.Printf("Failed to save subscription: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ User seeded successfully!\n")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Email:    %s\n", user.Email)
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Plan:     %s (%s)\n", sub.Plan, sub.Status)
}
