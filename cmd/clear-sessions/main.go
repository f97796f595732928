package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/repository"
	"golang.org/x/term"
)

// clear-sessions empties one or both session collections. Developer tooling.
func main() {
	var collection string
	var yes bool
	flag.StringVar(&collection, "collection", "all", "test, writing or all")
	flag.BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	dialect, err := database.ParseDialect(cfg.StoreDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid STORE_DRIVER")
	}
	store := database.NewStore(dialect, cfg.StoreDSN, log)
	defer store.Close()

	type clearer interface {
		Collection() string
		ClearAll(ctx context.Context) error
	}
	var targets []clearer
	switch collection {
	case "test":
		targets = append(targets, repository.NewTestSessionStore(store, log))
	case "writing":
		targets = append(targets, repository.NewWritingSessionStore(store, log))
	case "all":
		targets = append(targets, repository.NewTestSessionStore(store, log), repository.NewWritingSessionStore(store, log))
	default:
		fmt.Println("Error: -collection must be test, writing or all")
		os.Exit(2)
	}

	// ─── Confirmation ──────────────────────────────────────────────────
	if !yes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Println("Error: refusing to clear sessions without a terminal; pass -yes")
			os.Exit(1)
		}
		fmt.Printf("This deletes every stored session in %q (%s). Type 'yes' to continue: ", collection, database.RedactDSN(cfg.StoreDSN))
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted")
			return
		}
	}

	for _, t := range targets {
		if err := t.ClearAll(ctx); err != nil {
			log.Fatal().Err(err).Str("collection", t.Collection()).Msg("Clear failed")
		}
		log.Info().Str("collection", t.Collection()).Msg("Collection cleared")
	}
}
