package history

import "unicode/utf8"

// Buffer holds the characters typed since the last sync. It keeps at most
// limit runes; older runes are dropped first.
type Buffer struct {
	limit int
	runes []rune
}

// NewBuffer returns an empty buffer capped at limit runes.
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &Buffer{limit: limit}
}

// Append adds text to the end of the buffer.
func (b *Buffer) Append(text string) {
	if text == "" {
		return
	}
	b.runes = append(b.runes, []rune(text)...)
	if over := len(b.runes) - b.limit; over > 0 {
		b.runes = append(b.runes[:0], b.runes[over:]...)
	}
}

// Len returns the number of buffered characters.
func (b *Buffer) Len() int { return len(b.runes) }

// String returns the buffered text.
func (b *Buffer) String() string { return string(b.runes) }

// Take returns the buffered text and clears the buffer.
func (b *Buffer) Take() string {
	s := string(b.runes)
	b.runes = b.runes[:0]
	return s
}

// Reset clears the buffer.
func (b *Buffer) Reset() { b.runes = b.runes[:0] }

func runeLen(s string) int { return utf8.RuneCountInString(s) }
