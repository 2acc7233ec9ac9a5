// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDirs(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.Mkdir(filepath.Join(root, n), 0o755))
	}
	require.NoError(t, os.Mkdir(filepath.Join(root, ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "afile.txt"), []byte("x"), 0o644))
	return root
}

func TestBuildDirectoryBrowserListsNonHiddenSortedDirs(t *testing.T) {
	root := makeDirs(t, "zeta", "alpha", "beta")
	_, _, dirs := buildDirectoryBrowser(root, 0)
	assert.Equal(t, []string{"alpha", "beta", "zeta"}, dirs)
}

func TestBuildDirectoryBrowserPaginatesAtSixPerPage(t *testing.T) {
	root := makeDirs(t, "d1", "d2", "d3", "d4", "d5", "d6", "d7")
	text, kb, dirs := buildDirectoryBrowser(root, 0)
	assert.Len(t, dirs, 7)
	assert.Contains(t, text, "Choose a working directory")

	var buttonRows int
	for _, row := range kb.InlineKeyboard {
		buttonRows++
		_ = row
	}
	assert.True(t, buttonRows >= 3, "expected button rows + pagination row + action row")

	foundPager := false
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.Text == "▶" {
				foundPager = true
			}
		}
	}
	assert.True(t, foundPager, "expected a next-page button with 7 dirs across 2 pages")
}

func TestBuildDirectoryBrowserOmitsUpButtonAtRoot(t *testing.T) {
	_, kb, _ := buildDirectoryBrowser("/", 0)
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			assert.NotEqual(t, "⬆ ..", b.Text)
		}
	}
}

func TestTruncateNameAddsEllipsisPastThirteenChars(t *testing.T) {
	assert.Equal(t, "short", truncateName("short"))
	got := truncateName("a-very-long-directory-name")
	assert.LessOrEqual(t, len([]rune(got)), 13)
	assert.Contains(t, got, "…")
}

func TestDisplayPathSubstitutesHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, "~", displayPath(home))
	assert.Equal(t, "~/projects", displayPath(filepath.Join(home, "projects")))
	assert.Equal(t, "/etc", displayPath("/etc"))
}
