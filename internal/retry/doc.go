// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry runs a single unreliable network call with bounded attempts
// and a fixed inter-attempt delay.
//
// The fixed delay is a deliberate simplicity choice for a low-QPS
// interactive chat; it is a policy parameter, not a hidden constant, and a
// high-throughput caller should supply something smarter.
package retry
