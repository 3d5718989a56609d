package output

import (
	"fmt"
	"os"
	"strings"
)

var noColor = os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"

type Color string

const (
	Reset Color = "\033[0m"
	Bold  Color = "\033[1m"
	Dim   Color = "\033[2m"

	Red     Color = "\033[31m"
	Green   Color = "\033[32m"
	Yellow  Color = "\033[33m"
	Cyan    Color = "\033[36m"
	Gray    Color = "\033[90m"

	BrightGreen Color = "\033[92m"
	BrightCyan  Color = "\033[96m"
	BrightWhite Color = "\033[97m"
)

func Colorize(color Color, text string) string {
	if noColor {
		return text
	}
	return string(color) + text + string(Reset)
}

func ColorizeMulti(colors []Color, text string) string {
	if noColor {
		return text
	}
	var colorStr strings.Builder
	for _, c := range colors {
		colorStr.WriteString(string(c))
	}
	return colorStr.String() + text + string(Reset)
}

func Success(text string) string {
	return Colorize(Green, "✓ "+text)
}

func Error(text string) string {
	return Colorize(Red, "✗ "+text)
}

func Warning(text string) string {
	return Colorize(Yellow, "⚠ "+text)
}

func Info(text string) string {
	return Colorize(Cyan, "ℹ "+text)
}

// RoleBadge marks infrastructure roles so switches and routers stand out in
// entity listings.
func RoleBadge(role string) string {
	switch strings.ToLower(role) {
	case "bridge", "router":
		return Colorize(BrightGreen, "● "+role)
	case "wlan-ap":
		return Colorize(Green, "● "+role)
	case "phone", "printer":
		return Colorize(Cyan, "○ "+role)
	case "host":
		return Colorize(Gray, "○ "+role)
	default:
		return Colorize(Dim, role)
	}
}

func Section(title string) string {
	return "\n" + Colorize(BrightCyan, "┌─ "+strings.ToUpper(title)+" ") +
		Colorize(Cyan, strings.Repeat("─", 65-len(title)-4))
}

func SectionEnd() string {
	return Colorize(Cyan, "└"+strings.Repeat("─", 65))
}

func KeyValue(key, value string) string {
	return Colorize(Gray, key+": ") + Colorize(Bold, value)
}

func Count(n int, noun string) string {
	if n != 1 {
		noun += "s"
	}
	return fmt.Sprintf("%s %s", Colorize(Bold, fmt.Sprintf("%d", n)), noun)
}

func stripAnsi(str string) string {
	result := ""
	inEscape := false
	for _, r := range str {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		result += string(r)
	}
	return result
}
