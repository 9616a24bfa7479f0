// Package main provides a CLI tool for managing channel membership in the
// postgres channel directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/hexbattle/internal/config"
	"github.com/cory-johannsen/hexbattle/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	action := flag.String("action", "add", "add or remove")
	channelID := flag.String("channel", "", "channel id (required)")
	userID := flag.String("user", "", "user id (required)")
	username := flag.String("username", "", "username; defaults to the user id (add only)")
	displayName := flag.String("display-name", "", "display name (add only)")
	flag.Parse()

	if *channelID == "" || *userID == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *action != "add" && *action != "remove" {
		log.Fatalf("invalid action %q: must be 'add' or 'remove'", *action)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewMemberRepository(pool.DB())

	switch *action {
	case "add":
		name := *username
		if name == "" {
			name = *userID
		}
		if err := repo.UpsertUser(ctx, *userID, name, *displayName); err != nil {
			log.Fatalf("saving user %q: %v", *userID, err)
		}
		if err := repo.AddMember(ctx, *channelID, *userID); err != nil {
			log.Fatalf("adding member: %v", err)
		}
	case "remove":
		if err := repo.RemoveMember(ctx, *channelID, *userID); err != nil {
			log.Fatalf("removing member: %v", err)
		}
	}

	fmt.Fprintf(os.Stdout, "%s %s in channel %s [%s]\n", *action, *userID, *channelID, time.Since(start))
}
