// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives the single-writer assistant chat: validate the
// draft, append it optimistically, submit through the retry executor, then
// reconcile with the authoritative response or surface a fixed failure
// narrative as a normal conversation entry.
//
// A Manager owns the accumulated role-tagged history for its conversation
// and the pending attachment. It is created when a conversation opens and
// torn down when the view switches away; nothing in it is global.
package session
