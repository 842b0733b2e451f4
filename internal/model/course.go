// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// Course is one shared course deposit: an uploaded document plus its
// catalogue entry. The file itself lives on the server; FilePath is the
// stable download reference under /uploads/.
type Course struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	FilePath    string    `json:"file_path"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
