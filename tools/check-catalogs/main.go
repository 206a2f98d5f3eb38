package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/badge"
	"github.com/john/chatoverlay/internal/emote"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: check-catalogs <channel1> [channel2] ...")
		fmt.Println("\nResolves each channel and reports the badges and emotes an overlay would load.")
		fmt.Println("Reads TWITCH_CLIENT_ID and TWITCH_OAUTH from the environment or .env.")
		os.Exit(1)
	}
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var helix *badge.Client
	if id, token := os.Getenv("TWITCH_CLIENT_ID"), os.Getenv("TWITCH_OAUTH"); id != "" && token != "" {
		helix = badge.NewClient(os.Getenv("TWITCH_HELIX_URL"), id, token)
	} else {
		fmt.Println("TWITCH_CLIENT_ID/TWITCH_OAUTH not set, channel catalogs and badges are skipped")
	}
	loader := emote.NewLoader(logger)

	failed := 0
	for _, channel := range os.Args[1:] {
		if err := check(ctx, logger, helix, loader, channel); err != nil {
			fmt.Printf("✗ %s: %v\n\n", channel, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func check(ctx context.Context, log *zap.Logger, helix *badge.Client, loader *emote.Loader, channel string) error {
	var broadcasterID string
	if helix != nil {
		user, err := helix.LookupUser(ctx, channel)
		if err != nil {
			return fmt.Errorf("resolve channel: %w", err)
		}
		broadcasterID = user.ID
	}

	fmt.Printf("✓ %s", channel)
	if broadcasterID != "" {
		fmt.Printf(" (broadcaster id %s)", broadcasterID)
	}
	fmt.Println()
	fmt.Println("---")

	if helix != nil {
		r := badge.Load(ctx, log, helix, broadcasterID)
		fmt.Printf("badge sets: %d channel, %d global\n", len(r.Channel), len(r.Global))
	}

	catalog := loader.Load(ctx, broadcasterID)
	counts := make(map[emote.Provider]int)
	for _, e := range catalog {
		counts[e.Provider]++
	}
	providers := make([]string, 0, len(counts))
	for p := range counts {
		providers = append(providers, string(p))
	}
	sort.Strings(providers)
	fmt.Printf("emotes: %d\n", len(catalog))
	for _, p := range providers {
		fmt.Printf("  %s: %d\n", p, counts[emote.Provider(p)])
	}
	fmt.Println()
	return nil
}
