// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the HTTP client for the SOURCE API: the
// text-completion call, the community message post, the polling fetch,
// and the course catalogue.
//
// Every call returns a typed *ClientError on failure so callers can decide
// whether an error is transient (worth retrying) without string matching.
package client
