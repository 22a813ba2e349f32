package integrity

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"template-studio/internal/domain/entity"
)

// Method names the strategy that produced recovered content.
type Method string

// Recovery strategies, tried in this order.
const (
	MethodStripInvalidBytes    Method = "strip-invalid-bytes"
	MethodTrimTrailingFragment Method = "trim-trailing-fragment"
	MethodCloseOpenDelimiters  Method = "close-open-delimiters"
	MethodReparseMarkup        Method = "reparse-markup"
	MethodLastGoodBoundary     Method = "last-good-boundary"
)

// Recovery is the outcome of AttemptContentRecovery.
type Recovery struct {
	Recovered bool
	Content   string
	Method    Method
}

type strategy struct {
	method Method
	on     entity.ContentType
	apply  func(s string) (string, bool)
}

var strategies = []strategy{
	{MethodTrimTrailingFragment, entity.ContentJSON, trimTrailingFragment},
	{MethodCloseOpenDelimiters, entity.ContentJSON, closeOpenDelimiters},
	{MethodReparseMarkup, entity.ContentHTML, reparseMarkup},
	{MethodLastGoodBoundary, entity.ContentText, lastGoodBoundary},
}

// AttemptContentRecovery tries to salvage well-formed content of type ct
// from raw. Invalid bytes are stripped first; then only the strategies for
// ct are tried. The first output that is non-blank and passes the
// structural checks for ct wins. When none does, Recovered is false and
// Content is empty.
func (c *Checker) AttemptContentRecovery(raw string, ct entity.ContentType) Recovery {
	ct = ct.OrText()

	clean := stripInvalidBytes(raw)
	if clean != raw && wellFormed(clean, ct) {
		return c.recovered(MethodStripInvalidBytes, raw, clean)
	}

	for _, s := range strategies {
		if s.on != ct {
			continue
		}
		out, ok := s.apply(clean)
		if !ok || !wellFormed(out, ct) {
			continue
		}
		return c.recovered(s.method, raw, out)
	}

	c.logger.Debug("content recovery failed", slog.Int("raw_bytes", len(raw)))
	return Recovery{}
}

func (c *Checker) recovered(m Method, raw, out string) Recovery {
	c.logger.Info("content recovered",
		slog.String("method", string(m)),
		slog.Int("raw_bytes", len(raw)),
		slog.Int("recovered_bytes", len(out)))
	return Recovery{Recovered: true, Content: out, Method: m}
}

func hasInvalidBytes(s string) bool {
	return !utf8.ValidString(s) || strings.ContainsRune(s, 0)
}

// stripInvalidBytes drops NUL bytes and invalid UTF-8 sequences.
func stripInvalidBytes(s string) string {
	if !hasInvalidBytes(s) {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}

func looksStructured(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}

// validJSONStream reports whether s is one or more complete JSON values.
func validJSONStream(s string) bool {
	dec := json.NewDecoder(strings.NewReader(s))
	n := 0
	for {
		var v json.RawMessage
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return n > 0
		}
		if err != nil {
			return false
		}
		n++
	}
}

// trimTrailingFragment cuts s back to the end of the last complete top-level
// JSON value.
func trimTrailingFragment(s string) (string, bool) {
	if !looksStructured(s) {
		return "", false
	}

	dec := json.NewDecoder(strings.NewReader(s))
	var end int64
	for {
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			break
		}
		end = dec.InputOffset()
	}

	if end == 0 || end >= int64(len(s)) {
		return "", false
	}
	out := s[:end]
	if strings.TrimSpace(s[end:]) == "" {
		return "", false
	}
	return out, true
}

// closeOpenDelimiters truncates s to its last complete element and closes
// every bracket that is still open at that point.
func closeOpenDelimiters(s string) (string, bool) {
	if !looksStructured(s) {
		return "", false
	}

	var (
		stack     []byte
		inString  bool
		escaped   bool
		safeAt    = -1
		safeClose string
	)

	mark := func(at int) {
		safeAt = at
		var b bytes.Buffer
		for i := len(stack) - 1; i >= 0; i-- {
			b.WriteByte(stack[i])
		}
		safeClose = b.String()
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
			mark(i + 1)
		case '[':
			stack = append(stack, ']')
			mark(i + 1)
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return "", false
			}
			stack = stack[:len(stack)-1]
			mark(i + 1)
		case ',':
			mark(i)
		}
	}

	if len(stack) == 0 && !inString {
		// Nothing is open; trimTrailingFragment covers this case.
		return "", false
	}
	if safeAt <= 0 {
		return "", false
	}
	return strings.TrimRight(s[:safeAt], " \t\r\n") + safeClose, true
}

// lastGoodBoundary cuts plain text at its last paragraph or sentence end.
func lastGoodBoundary(s string) (string, bool) {
	t := strings.TrimRight(s, " \t\r\n")
	if t == "" {
		return "", false
	}
	if endsSentence(t) {
		return t, true
	}

	if i := strings.LastIndex(t, "\n\n"); i > 0 {
		return strings.TrimRight(t[:i], " \t\r\n"), true
	}

	cut := -1
	for _, sep := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if i := strings.LastIndex(t, sep); i > cut {
			cut = i
		}
	}
	if cut < 0 {
		return "", false
	}
	return t[:cut+1], true
}

func endsSentence(s string) bool {
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
