// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package feed persists the authoritative message log: one append-only
// sequence per conversation, keyed by a strictly increasing server id.
// Clients only ever reach it through the HTTP API; nothing else reads the
// database directly.
package feed
