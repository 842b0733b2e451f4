// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api exposes the SOURCE HTTP surface: the completion endpoint,
// the community post and polling fetch, the course catalogue, login,
// health, and Prometheus metrics. Handlers absorb collaborator failures
// into JSON error responses; nothing panics past the recoverer.
package api
