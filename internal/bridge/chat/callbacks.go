// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package chat

import "strings"

// Callback-data prefixes. Telegram limits callback_data to 64 bytes, so
// every one of these is deliberately short; the directory browser keys
// buttons by a global subdirectory index rather than by name for the same
// reason.
const (
	cbHistoryPrev = "hp:"
	cbHistoryNext = "hn:"

	cbDirSelect  = "db:sel:"
	cbDirUp      = "db:up"
	cbDirConfirm = "db:confirm"
	cbDirCancel  = "db:cancel"
	cbDirPage    = "db:page:"

	cbScreenshotRefresh = "ss:ref:"

	cbAskUp     = "aq:up:"
	cbAskDown   = "aq:down:"
	cbAskLeft   = "aq:left:"
	cbAskRight  = "aq:right:"
	cbAskEsc    = "aq:esc:"
	cbAskEnter  = "aq:enter:"
	cbAskRefres = "aq:ref:"
	cbAskOption = "aq:opt:"
)

// parseIndexSuffix splits a "prefix<n>" callback datum into the trailing
// base-10 integer, returning false if data doesn't start with prefix or the
// suffix isn't a valid non-negative integer.
func parseIndexSuffix(data, prefix string) (int, bool) {
	if !strings.HasPrefix(data, prefix) {
		return 0, false
	}
	suffix := data[len(prefix):]
	if suffix == "" {
		return 0, false
	}
	n := 0
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
