// Package fitshdr models FITS header cards as an ordered property list.
//
// A header is a sequence of (keyword, value, comment) records with
// FITS-card semantics: 80-column fixed-format images, typed values
// (string, logical, integer, floating point), and significant ordering.
// The package parses card images into typed records and renders records
// back into standard 80-column form.
package fitshdr

import (
	"fmt"
	"strconv"
	"strings"
)

// CardLen is the fixed length of a FITS card image.
const CardLen = 80

// KeyLen is the width of the keyword field in a card image.
const KeyLen = 8

// Card is a single header record. Value is one of string, bool, int64 or
// float64 for value cards, or nil for commentary cards (COMMENT, HISTORY,
// blank keyword).
type Card struct {
	Key     string
	Value   any
	Comment string
}

// Header is an ordered list of cards. The zero value is an empty header.
type Header struct {
	cards []Card
}

// New returns an empty header.
func New() *Header {
	return &Header{}
}

// Len returns the number of cards in the header.
func (h *Header) Len() int {
	return len(h.cards)
}

// Cards returns a copy of the card list in header order.
func (h *Header) Cards() []Card {
	out := make([]Card, len(h.cards))
	copy(out, h.cards)
	return out
}

// Append adds a card at the end of the header.
func (h *Header) Append(c Card) {
	h.cards = append(h.cards, c)
}

// Set replaces the first card carrying c.Key in place, keeping its
// position, or appends c when the keyword is not present.
func (h *Header) Set(c Card) {
	for i := range h.cards {
		if h.cards[i].Key == c.Key {
			h.cards[i] = c
			return
		}
	}
	h.cards = append(h.cards, c)
}

// Get returns the first card with the given keyword.
func (h *Header) Get(key string) (Card, bool) {
	for _, c := range h.cards {
		if c.Key == key {
			return c, true
		}
	}
	return Card{}, false
}

// Has reports whether any card carries the given keyword.
func (h *Header) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// HasPrefix reports whether any card keyword starts with the given prefix.
func (h *Header) HasPrefix(prefix string) bool {
	for _, c := range h.cards {
		if strings.HasPrefix(c.Key, prefix) {
			return true
		}
	}
	return false
}

// InsertAfter inserts a card directly after the first card with the given
// keyword. It fails if the keyword is not present.
func (h *Header) InsertAfter(after string, c Card) error {
	for i := range h.cards {
		if h.cards[i].Key == after {
			h.cards = append(h.cards, Card{})
			copy(h.cards[i+2:], h.cards[i+1:])
			h.cards[i+1] = c
			return nil
		}
	}
	return fmt.Errorf("fitshdr: insert after %q: keyword not present", after)
}

// Remove deletes every card with the given keyword and reports whether
// anything was removed.
func (h *Header) Remove(key string) bool {
	kept := h.cards[:0]
	removed := false
	for _, c := range h.cards {
		if c.Key == key {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	h.cards = kept
	return removed
}

// Float returns the value of a numeric card as float64. Integer-valued
// cards are promoted.
func (h *Header) Float(key string) (float64, bool) {
	c, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns the value of an integer card.
func (h *Header) Int(key string) (int64, bool) {
	c, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	v, ok := c.Value.(int64)
	return v, ok
}

// Str returns the value of a string card.
func (h *Header) Str(key string) (string, bool) {
	c, ok := h.Get(key)
	if !ok {
		return "", false
	}
	v, ok := c.Value.(string)
	return v, ok
}

// Text renders the header as concatenated 80-column card images followed
// by an END card. This is the form the projection parser consumes.
func (h *Header) Text() string {
	var b strings.Builder
	b.Grow((len(h.cards) + 1) * CardLen)
	for _, c := range h.cards {
		b.WriteString(FormatCard(c))
	}
	b.WriteString(padCard("END"))
	return b.String()
}

// FormatCard renders a card as a fixed 80-column FITS card image.
func FormatCard(c Card) string {
	key := c.Key
	if len(key) > KeyLen {
		key = key[:KeyLen]
	}
	if c.Value == nil {
		// Commentary card: keyword then free text from column 9.
		img := fmt.Sprintf("%-8s%s", key, c.Comment)
		return padCard(img)
	}
	var val string
	switch v := c.Value.(type) {
	case string:
		quoted := "'" + strings.ReplaceAll(v, "'", "''") + "'"
		// Pad short strings to the classic 8-character minimum.
		for len(quoted) < 10 {
			quoted = quoted[:len(quoted)-1] + " '"
		}
		val = fmt.Sprintf("%-20s", quoted)
	case bool:
		if v {
			val = fmt.Sprintf("%20s", "T")
		} else {
			val = fmt.Sprintf("%20s", "F")
		}
	case int64:
		val = fmt.Sprintf("%20d", v)
	case float64:
		val = fmt.Sprintf("%20s", formatFloat(v))
	default:
		val = fmt.Sprintf("%20v", v)
	}
	img := fmt.Sprintf("%-8s= %s", key, val)
	if c.Comment != "" {
		img += " / " + c.Comment
	}
	return padCard(img)
}

// formatFloat renders a float in FITS-friendly form, keeping a decimal
// point or exponent so the card stays typed as floating on re-parse.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'G', 13, 64)
	if !strings.ContainsAny(s, ".E") && !strings.Contains(s, "Inf") && !strings.Contains(s, "NaN") {
		s += "."
	}
	return s
}

func padCard(s string) string {
	if len(s) > CardLen {
		return s[:CardLen]
	}
	return s + strings.Repeat(" ", CardLen-len(s))
}

// ParseCard parses one card image into a typed Card. The image may be
// shorter than 80 columns (trailing blanks are not significant).
func ParseCard(image string) (Card, error) {
	if len(image) > CardLen {
		image = image[:CardLen]
	}
	padded := image
	if len(padded) < KeyLen {
		padded += strings.Repeat(" ", KeyLen-len(padded))
	}
	key := strings.TrimRight(padded[:KeyLen], " ")

	// Commentary and non-value cards carry free text from column 9.
	if len(padded) < KeyLen+2 || padded[KeyLen:KeyLen+2] != "= " {
		return Card{Key: key, Comment: strings.TrimRight(rest(padded, KeyLen), " ")}, nil
	}

	body := rest(padded, KeyLen+2)
	trimmed := strings.TrimLeft(body, " ")
	if strings.HasPrefix(trimmed, "'") {
		val, comment, err := parseQuoted(trimmed)
		if err != nil {
			return Card{}, fmt.Errorf("fitshdr: card %s: %w", key, err)
		}
		return Card{Key: key, Value: val, Comment: comment}, nil
	}

	valTok := trimmed
	comment := ""
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		valTok = trimmed[:idx]
		comment = strings.TrimSpace(trimmed[idx+1:])
	}
	valTok = strings.TrimSpace(valTok)
	val, err := parseValueToken(valTok)
	if err != nil {
		return Card{}, fmt.Errorf("fitshdr: card %s: %w", key, err)
	}
	return Card{Key: key, Value: val, Comment: comment}, nil
}

// parseQuoted splits a leading quoted string and any trailing comment.
func parseQuoted(s string) (string, string, error) {
	var val strings.Builder
	i := 1
	for i < len(s) {
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				val.WriteByte('\'')
				i += 2
				continue
			}
			i++
			tail := strings.TrimSpace(s[i:])
			comment := ""
			if strings.HasPrefix(tail, "/") {
				comment = strings.TrimSpace(tail[1:])
			}
			return strings.TrimRight(val.String(), " "), comment, nil
		}
		val.WriteByte(s[i])
		i++
	}
	return "", "", fmt.Errorf("unterminated string value")
}

func parseValueToken(tok string) (any, error) {
	switch tok {
	case "":
		return nil, nil
	case "T":
		return true, nil
	case "F":
		return false, nil
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return i, nil
	}
	// FITS allows D exponents in floating values.
	ftok := strings.Map(func(r rune) rune {
		if r == 'D' || r == 'd' {
			return 'E'
		}
		return r
	}, tok)
	if f, err := strconv.ParseFloat(ftok, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unrecognized value %q", tok)
}

func rest(s string, from int) string {
	if len(s) <= from {
		return ""
	}
	return s[from:]
}

// ParseText parses header text into a Header. The text may be a stream of
// 80-column card images or newline-separated cards of any width. Parsing
// stops at the END card, which is not retained.
func ParseText(text string) (*Header, error) {
	h := New()
	for _, img := range splitCards(text) {
		if strings.TrimRight(img, " ") == "END" || strings.HasPrefix(img, "END ") {
			break
		}
		if strings.TrimSpace(img) == "" {
			continue
		}
		c, err := ParseCard(img)
		if err != nil {
			return nil, err
		}
		h.Append(c)
	}
	return h, nil
}

func splitCards(text string) []string {
	if strings.ContainsAny(text, "\n") {
		return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	}
	var cards []string
	for i := 0; i < len(text); i += CardLen {
		end := i + CardLen
		if end > len(text) {
			end = len(text)
		}
		cards = append(cards, text[i:end])
	}
	return cards
}
