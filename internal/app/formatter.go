package app

import (
	"regexp"
	"strings"
)

var (
	hanToLatin          = regexp.MustCompile(`([\p{Han}])([A-Za-z0-9])`)
	latinToHan          = regexp.MustCompile(`([A-Za-z0-9])([\p{Han}])`)
	hanToLatinMidPunct  = regexp.MustCompile(`([\p{Han}])([-/]+)([A-Za-z0-9])`)
	latinToHanMidPunct  = regexp.MustCompile(`([A-Za-z0-9])([-/]+)([\p{Han}])`)
	hanToLatinOpenPunct = regexp.MustCompile(`([\p{Han}])([\(\[\{'"]+)([A-Za-z0-9])`)
	latinToHanOpenPunct = regexp.MustCompile(`([A-Za-z0-9])([\(\[\{'"]+)([\p{Han}])`)
	hanToLatinPunct     = regexp.MustCompile(`([\p{Han}])([,.;:!?\)\]\}]+)([A-Za-z0-9])`)
	latinToHanPunct     = regexp.MustCompile(`([A-Za-z0-9])([,.;:!?\)\]\}]+)([\p{Han}])`)
)

const codeFence = "```"

// FormatMessage spaces out Han and Latin runs for display. Lines inside
// fenced code blocks are left alone.
func FormatMessage(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), codeFence) {
			inCode = !inCode
			continue
		}
		if !inCode {
			lines[i] = spaceLine(line)
		}
	}
	return strings.Join(lines, "\n")
}

func spaceLine(line string) string {
	line = hanToLatinMidPunct.ReplaceAllString(line, "$1 $2 $3")
	line = latinToHanMidPunct.ReplaceAllString(line, "$1 $2 $3")
	line = hanToLatinOpenPunct.ReplaceAllString(line, "$1 $2$3")
	line = latinToHanOpenPunct.ReplaceAllString(line, "$1 $2$3")
	line = hanToLatinPunct.ReplaceAllString(line, "$1$2 $3")
	line = latinToHanPunct.ReplaceAllString(line, "$1$2 $3")
	line = hanToLatin.ReplaceAllString(line, "$1 $2")
	line = latinToHan.ReplaceAllString(line, "$1 $2")
	return line
}

func formatTitle(title string) string {
	return spaceLine(title)
}
