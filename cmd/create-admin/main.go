package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	jwtpkg "ephemail/backend/internal/auth/jwt"
	"ephemail/backend/internal/config"
	"ephemail/backend/internal/domain"
	"ephemail/backend/internal/storage"
	"ephemail/backend/internal/storage/memory"
	sqlstore "ephemail/backend/internal/storage/sql"
)

// create-admin 创建一个管理员用户并签发访问令牌。
//
// 配置了数据库时直接写库，否则写内存存储（仅用于演示，
// 进程退出后即丢失）。
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: create-admin <username> <password> [quota]")
		os.Exit(1)
	}

	username := os.Args[1]
	password := os.Args[2]

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	quota := cfg.Quota.DefaultLimit
	if len(os.Args) >= 4 {
		if _, err := fmt.Sscanf(os.Args[3], "%d", &quota); err != nil || quota <= 0 {
			fmt.Println("Invalid quota: must be a positive integer")
			os.Exit(1)
		}
	}

	if len(password) < 8 {
		fmt.Println("Invalid password: must be at least 8 characters")
		os.Exit(1)
	}

	var store storage.Store
	if cfg.Database.Driver != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Driver,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
			cfg.Database.Timeout,
		)
		if err != nil {
			fmt.Printf("Failed to connect to database: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
	} else {
		fmt.Println("Warning: no database configured, user exists only in this process")
		store = memory.NewStore()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		Quota:        quota,
		CreatedAt:    time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.CreateUser(ctx, user); err != nil {
		fmt.Printf("Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Admin user created successfully!")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  Role:     %s\n", user.Role)
	fmt.Printf("  Quota:    %d\n", user.Quota)

	if cfg.JWT.Secret != "" {
		manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer)
		token, err := manager.GenerateToken(user.ID, string(user.Role), 24*time.Hour)
		if err != nil {
			fmt.Printf("Failed to generate token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nAccess token (valid 24h):\n%s\n", token)
	}
}
