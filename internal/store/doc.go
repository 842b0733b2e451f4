// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the client-side ordered log of messages for one
// conversation.
//
// It supports appending a provisional entry, reconciling it with the
// server-confirmed record, and merging polled authoritative batches without
// duplication. Reconcile and Merge are idempotent and commute with each
// other, so a direct response and a poll cycle racing for the same logical
// message always converge to one entry.
package store
