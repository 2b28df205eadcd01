package pattern

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"voxedit/internal/clipboard"
	"voxedit/internal/terrain"
	"voxedit/internal/world"
)

// ErrNoClipboard is wrapped by the ParseError for #clipboard without a
// clipboard.
var ErrNoClipboard = errors.New("clipboard is empty")

// ParseError reports malformed pattern text.
type ParseError struct {
	Input string
	Token string
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s near %q", e.Input, e.Msg, e.Token)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Context supplies the collaborators some pattern forms need.
type Context struct {
	Clipboard *clipboard.Buffer
	// Anchor is where the clipboard's first cell is tiled from.
	Anchor world.Position
	Rand   *rand.Rand
	Seed   int64
}

// Parse builds a pattern from text:
//
//	stone                     single value
//	75%stone,25%dirt          weighted choice; bare entries weigh 1
//	#noise:8:stone,dirt,sand  coherent noise with the given scale
//	#clipboard                tiled clipboard contents
func Parse(text string, ctx Context) (*Pattern, error) {
	input := strings.TrimSpace(text)
	fail := func(token, msg string) error {
		return &ParseError{Input: text, Token: token, Msg: msg}
	}
	if input == "" {
		return nil, fail("", "empty pattern")
	}

	lower := strings.ToLower(input)
	switch {
	case lower == "#clipboard" || lower == "#copy":
		if ctx.Clipboard == nil {
			return nil, &ParseError{Input: text, Token: input, Msg: ErrNoClipboard.Error(), Err: ErrNoClipboard}
		}
		return Clipboard(ctx.Clipboard, ctx.Anchor), nil
	case strings.HasPrefix(lower, "#noise:"):
		rest := input[len("#noise:"):]
		scaleText, list, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fail(rest, "expected #noise:<scale>:<blocks>")
		}
		scale, err := strconv.ParseFloat(scaleText, 64)
		if err != nil || scale <= 0 {
			return nil, fail(scaleText, "noise scale must be a positive number")
		}
		children, err := parseList(list, fail)
		if err != nil {
			return nil, err
		}
		return Noise(terrain.NewNoise(ctx.Seed), scale, children...), nil
	case strings.HasPrefix(lower, "#"):
		return nil, fail(input, "unknown pattern keyword")
	}

	entries := splitTopLevel(input)
	if len(entries) == 1 && !strings.Contains(entries[0], "%") {
		b, err := parseBlock(entries[0], fail)
		if err != nil {
			return nil, err
		}
		return Single(b), nil
	}

	weighted := Weighted(ctx.Rand)
	for _, entry := range entries {
		weight := 1.0
		blockText := entry
		if pct, rest, ok := strings.Cut(entry, "%"); ok {
			w, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
			if err != nil || w <= 0 {
				return nil, fail(entry, "weight must be a positive number")
			}
			weight, blockText = w, rest
		}
		b, err := parseBlock(blockText, fail)
		if err != nil {
			return nil, err
		}
		weighted.Add(Single(b), weight)
	}
	return weighted, nil
}

func parseList(list string, fail func(string, string) error) ([]*Pattern, error) {
	var out []*Pattern
	for _, entry := range splitTopLevel(list) {
		b, err := parseBlock(entry, fail)
		if err != nil {
			return nil, err
		}
		out = append(out, Single(b))
	}
	if len(out) == 0 {
		return nil, fail(list, "expected at least one block")
	}
	return out, nil
}

func parseBlock(text string, fail func(string, string) error) (world.Block, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return world.Block{}, fail(text, "empty block type")
	}
	if strings.ContainsAny(text, "%#:()&|^!") {
		return world.Block{}, fail(text, "invalid block type")
	}
	if strings.Count(text, "[") != strings.Count(text, "]") {
		return world.Block{}, fail(text, "unterminated block state")
	}
	return world.ParseBlock(text), nil
}

// splitTopLevel splits on commas outside block state brackets.
func splitTopLevel(text string) []string {
	var out []string
	depth, start := 0, 0
	for i, c := range text {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(text[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(text[start:]))
}
