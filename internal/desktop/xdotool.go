package desktop

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// DefaultXdotoolPath is used when no path is configured.
const DefaultXdotoolPath = "xdotool"

// TypingDelayMillis is the delay between typed characters.
const TypingDelayMillis = 12

// Xdotool builds xdotool command lines for input actions. Coordinates
// passed in are device coordinates.
type Xdotool struct {
	Path string
}

func (x Xdotool) bin() string {
	if x.Path == "" {
		return DefaultXdotoolPath
	}
	return x.Path
}

func (x Xdotool) argv(parts ...string) []string {
	return append([]string{x.bin()}, parts...)
}

func (x Xdotool) Type(text string) []string {
	return x.argv("type", "--delay", strconv.Itoa(TypingDelayMillis), "--", text)
}

func (x Xdotool) Key(combo string) []string {
	return x.argv("key", "--", combo)
}

// HoldKey presses key for seconds.
func (x Xdotool) HoldKey(key string, seconds float64) []string {
	return x.argv("keydown", key, "sleep", formatSeconds(seconds), "keyup", key)
}

func (x Xdotool) MouseMove(p Point) []string {
	return x.argv(moveTo(p)...)
}

func (x Xdotool) MouseDown() []string {
	return x.argv("mousedown", "1")
}

func (x Xdotool) MouseUp() []string {
	return x.argv("mouseup", "1")
}

// Click clicks button (1 left, 2 middle, 3 right) repeat times, optionally
// moving first and holding a modifier key.
func (x Xdotool) Click(button, repeat int, at *Point, modifier string) []string {
	var parts []string
	if at != nil {
		parts = append(parts, moveTo(*at)...)
	}
	if modifier != "" {
		parts = append(parts, "keydown", modifier)
	}
	if repeat > 1 {
		parts = append(parts, "click", "--repeat", strconv.Itoa(repeat), "--delay", "10", strconv.Itoa(button))
	} else {
		parts = append(parts, "click", strconv.Itoa(button))
	}
	if modifier != "" {
		parts = append(parts, "keyup", modifier)
	}
	return x.argv(parts...)
}

// Drag presses the left button, optionally at from, and releases at to.
func (x Xdotool) Drag(from *Point, to Point) []string {
	var parts []string
	if from != nil {
		parts = append(parts, moveTo(*from)...)
	}
	parts = append(parts, "mousedown", "1")
	parts = append(parts, moveTo(to)...)
	parts = append(parts, "mouseup", "1")
	return x.argv(parts...)
}

var scrollButtons = map[string]string{
	"up":    "4",
	"down":  "5",
	"left":  "6",
	"right": "7",
}

func (x Xdotool) Scroll(direction string, amount int, at *Point, modifier string) ([]string, error) {
	button, ok := scrollButtons[direction]
	if !ok {
		return nil, fmt.Errorf("invalid scroll direction: %s", direction)
	}
	var parts []string
	if at != nil {
		parts = append(parts, moveTo(*at)...)
	}
	if modifier != "" {
		parts = append(parts, "keydown", modifier)
	}
	parts = append(parts, "click", "--repeat", strconv.Itoa(amount), button)
	if modifier != "" {
		parts = append(parts, "keyup", modifier)
	}
	return x.argv(parts...), nil
}

func (x Xdotool) CursorPosition() []string {
	return x.argv("getmouselocation", "--shell")
}

// ParseMouseLocation reads X= and Y= lines from getmouselocation --shell.
func ParseMouseLocation(out []byte) (Point, error) {
	var (
		p            Point
		seenX, seenY bool
	)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		switch key {
		case "X":
			if err != nil {
				return Point{}, fmt.Errorf("parse X: %w", err)
			}
			p.X, seenX = n, true
		case "Y":
			if err != nil {
				return Point{}, fmt.Errorf("parse Y: %w", err)
			}
			p.Y, seenY = n, true
		}
	}
	if !seenX || !seenY {
		return Point{}, fmt.Errorf("unexpected mouse location output: %q", strings.TrimSpace(string(out)))
	}
	return p, nil
}

func moveTo(p Point) []string {
	return []string{"mousemove", "--sync", strconv.Itoa(p.X), strconv.Itoa(p.Y)}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
