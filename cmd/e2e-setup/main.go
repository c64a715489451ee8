package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"cineai/internal/config"
	"cineai/internal/infra/api"
	"cineai/internal/infra/db/postgres"
	"cineai/internal/infra/redis"
)

// This script is for setting up a clean, predictable state for manual end-to-end testing
// and printing bearer tokens for the test users.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	users := flag.Int("users", 2, "number of test users to mint tokens for")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	log.Println("--- Starting E2E Environment Setup ---")

	// 1. Clean the Redis cache to remove stale windows, leases and rate buckets.
	if cfg.Redis.URL != "" {
		log.Println("[1/3] Wiping Redis...")
		rc, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer rc.Close()
		if err := rc.FlushDB(ctx); err != nil {
			log.Fatalf("failed to flush redis: %v", err)
		}
	} else {
		log.Println("[1/3] Redis not configured; skipping")
	}

	// 2. Clean the database completely.
	if cfg.Database.URL != "" {
		log.Println("[2/3] Wiping conversations, messages and jobs...")
		pool, err := postgres.Connect(ctx, cfg.Database.URL, 2)
		if err != nil {
			log.Fatalf("postgres connection failed: %v", err)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, `TRUNCATE messages, conversations, jobs RESTART IDENTITY CASCADE;`); err != nil {
			log.Fatalf("failed to truncate tables: %v", err)
		}
	} else {
		log.Println("[2/3] Database not configured (in-memory mode); skipping")
	}

	// 3. Mint tokens.
	log.Println("[3/3] Minting bearer tokens...")
	auth, err := api.NewTokenAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 24*time.Hour)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	for i := 1; i <= *users; i++ {
		uid := fmt.Sprintf("e2e-user-%d", i)
		tok, err := auth.Issue(uid)
		if err != nil {
			log.Fatalf("issue token for %s: %v", uid, err)
		}
		fmt.Printf("%s\tBearer %s\n", uid, tok)
	}

	log.Println("--- E2E Environment Setup Complete ---")
}
