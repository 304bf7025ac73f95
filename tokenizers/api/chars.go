package api

// CharOffsets converts byte offsets of a text to character (rune) offsets, the unit in which spans and
// cutoffs are exchanged with users.
//
// Invalid UTF-8 bytes count as one character each, as when ranging over a Go string.
type CharOffsets struct {
	// chars[i] is the character containing byte i, and chars[len(text)] the number of characters.
	chars []int
	// boundary[i] is true if byte i starts a character, or i == len(text).
	boundary []bool
}

// NewCharOffsets indexes the characters of text.
func NewCharOffsets(text string) *CharOffsets {
	c := &CharOffsets{
		chars:    make([]int, len(text)+1),
		boundary: make([]bool, len(text)+1),
	}
	numChars := 0
	for pos := range text {
		c.chars[pos] = numChars
		c.boundary[pos] = true
		numChars++
	}
	for pos := 1; pos < len(text); pos++ {
		if !c.boundary[pos] {
			c.chars[pos] = c.chars[pos-1]
		}
	}
	c.chars[len(text)] = numChars
	c.boundary[len(text)] = true
	return c
}

// Len returns the number of characters of the text.
func (c *CharOffsets) Len() int {
	return c.chars[len(c.chars)-1]
}

func (c *CharOffsets) clamp(byteOffset int) int {
	return min(max(byteOffset, 0), len(c.chars)-1)
}

// Floor returns the character offset of byteOffset. An offset in the middle of a multi-byte character
// is rounded down to the start of that character.
func (c *CharOffsets) Floor(byteOffset int) int {
	return c.chars[c.clamp(byteOffset)]
}

// Ceil returns the character offset of byteOffset. An offset in the middle of a multi-byte character
// is rounded up to the start of the next character.
func (c *CharOffsets) Ceil(byteOffset int) int {
	byteOffset = c.clamp(byteOffset)
	if c.boundary[byteOffset] {
		return c.chars[byteOffset]
	}
	return c.chars[byteOffset] + 1
}

// Span converts a byte span to the smallest character span that contains it.
func (c *CharOffsets) Span(s TokenSpan) TokenSpan {
	return TokenSpan{Start: c.Floor(s.Start), End: c.Ceil(s.End)}
}

// Spans converts byte spans with Span.
func (c *CharOffsets) Spans(spans []TokenSpan) []TokenSpan {
	if spans == nil {
		return nil
	}
	charSpans := make([]TokenSpan, len(spans))
	for i, s := range spans {
		charSpans[i] = c.Span(s)
	}
	return charSpans
}
