// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-telegram/bot/models"
)

const dirsPerPage = 6

// browseState is the ephemeral, dispatcher-owned cursor into a directory
// browser conversation. It never survives a process restart — a restart
// just means the user re-sends the text that starts a new browse.
type browseState struct {
	Path string
	Page int
	Dirs []string // subdirectories currently shown, indexed for callback data
}

// listSubdirs returns the non-hidden subdirectories of path, sorted by name.
func listSubdirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs = append(dirs, e.Name())
	}
	sort.Strings(dirs)
	return dirs, nil
}

// displayPath substitutes the user's home directory with "~" for a shorter
// prompt, the way a shell prompt would.
func displayPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(filepath.Separator)) {
		return "~" + path[len(home):]
	}
	return path
}

func truncateName(name string) string {
	const max = 13
	if len(name) <= max {
		return name
	}
	return name[:max-1] + "…"
}

// buildDirectoryBrowser renders the inline directory picker for path, page.
// It returns the prompt text, the keyboard, and the full (unpaginated) list
// of subdirectories so the caller can resolve a button press by index.
func buildDirectoryBrowser(path string, page int) (string, *models.InlineKeyboardMarkup, []string) {
	dirs, err := listSubdirs(path)
	if err != nil {
		dirs = nil
	}

	pageCount := 1
	if len(dirs) > 0 {
		pageCount = (len(dirs) + dirsPerPage - 1) / dirsPerPage
	}
	if page < 0 {
		page = 0
	}
	if page >= pageCount {
		page = pageCount - 1
	}

	start := page * dirsPerPage
	end := start + dirsPerPage
	if end > len(dirs) {
		end = len(dirs)
	}
	shown := dirs[start:end]

	var rows [][]models.InlineKeyboardButton
	for i := 0; i < len(shown); i += 2 {
		var row []models.InlineKeyboardButton
		for j := i; j < i+2 && j < len(shown); j++ {
			globalIdx := start + j
			row = append(row, models.InlineKeyboardButton{
				Text:         "📁 " + truncateName(shown[j]),
				CallbackData: fmt.Sprintf("%s%d", cbDirSelect, globalIdx),
			})
		}
		rows = append(rows, row)
	}

	if pageCount > 1 {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "◀", CallbackData: fmt.Sprintf("%s%d", cbDirPage, page-1)},
			{Text: fmt.Sprintf("%d/%d", page+1, pageCount), CallbackData: cbDirCancel},
			{Text: "▶", CallbackData: fmt.Sprintf("%s%d", cbDirPage, page+1)},
		})
	}

	var actions []models.InlineKeyboardButton
	if path != string(filepath.Separator) {
		actions = append(actions, models.InlineKeyboardButton{Text: "⬆ ..", CallbackData: cbDirUp})
	}
	actions = append(actions,
		models.InlineKeyboardButton{Text: "✅ Select", CallbackData: cbDirConfirm},
		models.InlineKeyboardButton{Text: "✖ Cancel", CallbackData: cbDirCancel},
	)
	rows = append(rows, actions)

	text := fmt.Sprintf("📂 <code>%s</code>\n\nChoose a working directory:", escapeHTML(displayPath(path)))
	return text, &models.InlineKeyboardMarkup{InlineKeyboard: rows}, dirs
}
