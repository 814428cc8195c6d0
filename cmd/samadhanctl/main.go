package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"samadhan/internal/admincli"
	"samadhan/internal/config"
	"samadhan/internal/db"
	"samadhan/internal/identity"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	service := identity.NewService(identity.Deps{
		Identities:    db.NewIdentityRepository(database),
		RefreshTokens: db.NewRefreshTokenRepository(database),
	})

	err = admincli.Run(context.Background(), service, flag.Args(), os.Stdout)
	database.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
