// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package poll periodically fetches the authoritative message log and
// feeds new entries into a conversation store.
//
// The poller holds a handle to the store, never the reverse: a store has no
// knowledge of whether polling is active. One loop runs per conversation
// id; restarting an id replaces its loop, and a failed fetch is logged and
// skipped without disturbing the loop or the store.
package poll
