// hashpass - registers a SOURCE user by writing a bcrypt hash into the
// server database. Run it on the server host; there is no signup endpoint.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/bcrypt"

	"github.com/yessusuper/alpha-source/internal/config"
	"github.com/yessusuper/alpha-source/internal/feed"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "Usage: hashpass <username> <password>")
		os.Exit(1)
	}
	username, password := os.Args[1], os.Args[2]

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error hashing password: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := feed.Open(ctx, filepath.Join(cfg.Server.DataDir, "source.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.UpsertUser(ctx, username, string(hash)); err != nil {
		fmt.Fprintf(os.Stderr, "Error storing user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User %q registered.\n", username)
}
