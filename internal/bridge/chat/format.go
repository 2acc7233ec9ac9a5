// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"fmt"
	"regexp"
	"strings"
)

// renderHTML converts the assistant's Markdown-flavored output to
// Telegram's restricted HTML dialect. Code fences are pulled out first and
// restored verbatim at the end so nothing inside them is mistaken for
// Markdown syntax.
func renderHTML(text string) string {
	if text == "" {
		return ""
	}

	fences := make(map[string]string)
	fenceRe := regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n?(.*?)```")
	text = fenceRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := fenceRe.FindStringSubmatch(m)
		lang, body := sub[1], sub[2]
		id := fmt.Sprintf("\x00CB%d\x00", len(fences))
		if lang != "" {
			fences[id] = fmt.Sprintf("<pre><code class=\"language-%s\">%s</code></pre>", lang, escapeHTML(body))
		} else {
			fences[id] = fmt.Sprintf("<pre><code>%s</code></pre>", escapeHTML(body))
		}
		return id
	})

	inline := make(map[string]string)
	inlineRe := regexp.MustCompile("`([^`]+)`")
	text = inlineRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := inlineRe.FindStringSubmatch(m)
		id := fmt.Sprintf("\x00IL%d\x00", len(inline))
		inline[id] = fmt.Sprintf("<code>%s</code>", escapeHTML(sub[1]))
		return id
	})

	text = escapeHTML(text)

	text = regexp.MustCompile(`(?m)^#{1,6}\s+(.*)$`).ReplaceAllString(text, "<b>$1</b>")
	text = regexp.MustCompile(`\*\*([^*]+)\*\*`).ReplaceAllString(text, "<b>$1</b>")
	text = regexp.MustCompile(`\*([^*]+)\*`).ReplaceAllString(text, "<i>$1</i>")
	text = regexp.MustCompile(`~~([^~]+)~~`).ReplaceAllString(text, "<s>$1</s>")
	text = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`).ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = renderBlockquotes(text)
	text = regexp.MustCompile(`(?m)^\s*[-*+]\s+(.*)$`).ReplaceAllString(text, "• $1")

	for id, block := range fences {
		text = strings.ReplaceAll(text, id, block)
	}
	for id, code := range inline {
		text = strings.ReplaceAll(text, id, code)
	}
	return text
}

func renderBlockquotes(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	var quote []string
	flush := func() {
		if quote != nil {
			out = append(out, "<blockquote>"+strings.Join(quote, "\n")+"</blockquote>")
			quote = nil
		}
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "&gt; ") {
			quote = append(quote, strings.TrimPrefix(line, "&gt; "))
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()
	return strings.Join(out, "\n")
}

// escapeHTML escapes the three characters Telegram's HTML parser treats as
// structural; everything else passes through untouched.
func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

// plainFallback strips the handful of Markdown markers a terminal transcript
// is actually likely to contain, for use when HTML rendering itself would be
// rejected by the platform (e.g. an unbalanced tag slipped through). It never
// errors: worst case, some stray asterisks reach the user.
func plainFallback(text string) string {
	text = regexp.MustCompile("```[a-zA-Z0-9_+-]*\n?").ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	text = regexp.MustCompile("`([^`]+)`").ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`\*\*([^*]+)\*\*`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`\*([^*]+)\*`).ReplaceAllString(text, "$1")
	return text
}
