// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package genai wraps the external text-completion service behind the
// Provider interface. The engine treats it as opaque: role-tagged turns
// and tuning parameters in, generated text out.
package genai
