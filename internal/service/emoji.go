package service

import (
	"regexp"
	"strings"
)

var headingPattern = regexp.MustCompile(`(^|\n)(#{1,3})[ \t]*([^#\n][^\n]*)`)

type headingRule struct {
	keywords []string
	emoji    string
}

// Checked in order; the first rule whose keyword appears in the heading wins.
var headingRules = []headingRule{
	{keywords: []string{"note", "important"}, emoji: "📌"},
	{keywords: []string{"warning", "caution"}, emoji: "⚠️"},
	{keywords: []string{"tip", "hint"}, emoji: "💭"},
	{keywords: []string{"step", "guide"}, emoji: "📍"},
	{keywords: []string{"code", "syntax"}, emoji: "💻"},
	{keywords: []string{"feature", "benefit"}, emoji: "✅"},
	{keywords: []string{"error", "issue"}, emoji: "❌"},
	{keywords: []string{"success", "complete"}, emoji: "✨"},
	{keywords: []string{"question", "help"}, emoji: "❓"},
	{keywords: []string{"example", "demo"}, emoji: "💡"},
}

func headingEmoji(title string) string {
	lower := strings.ToLower(title)
	for _, rule := range headingRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.emoji
			}
		}
	}
	return ""
}

// EnhanceHeadings prefixes level 1 to 3 markdown headings with an emoji picked
// from the heading text. Headings are normalized to a single space after the
// hashes.
func EnhanceHeadings(text string) string {
	if text == "" {
		return text
	}

	return headingPattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingPattern.FindStringSubmatch(match)
		prefix, hashes, title := parts[1], parts[2], parts[3]

		emoji := headingEmoji(title)
		if emoji == "" {
			return prefix + hashes + " " + title
		}
		return prefix + hashes + " " + emoji + " " + title
	})
}
