package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/config"
	"z-novel-canon-api/internal/seed"
	"z-novel-canon-api/internal/wire"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting canon store bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.Driver == wire.DriverMemory {
		log.Fatalf("bootstrap requires database.driver=postgres")
	}

	ctx := context.Background()

	// 2. 建表
	client, cleanup, err := wire.ProvidePostgresClient(cfg)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer cleanup()

	if err := client.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	fmt.Println("Schema migrated.")

	// 3. 可选：写入演示系列
	if os.Getenv("BOOTSTRAP_SEED_DEMO") != "true" {
		fmt.Println("Bootstrap completed successfully.")
		return
	}

	// 演示数据不经过缓存，也不发送变更通知
	svc := canon.NewService(client.Repositories(), wire.ProvideCanonOptions(cfg), nil, nil)
	fx, err := seed.AshenCrown(ctx, svc)
	if err != nil {
		log.Fatalf("failed to seed demo series: %v", err)
	}
	fmt.Printf("Demo series created with ID: %s (Kael: %s)\n", fx.SeriesID, fx.KaelID)

	fmt.Println("Bootstrap completed successfully.")
}
