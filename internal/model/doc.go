// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the chat engine:
// messages, attachments, role-tagged history turns, and generation
// parameters.
//
// A Message is created Provisional on local user action and transitions to
// Confirmed exactly once, when the authoritative server record for it is
// known. Confirmed messages are immutable and carry the server-assigned
// identifier, which is strictly increasing and used as the sync cursor.
package model
