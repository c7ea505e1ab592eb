package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"
)

// KeyKind classifies one decoded key press.
type KeyKind int

const (
	KeyText KeyKind = iota
	KeyBackspace
	KeyAccept
	KeyNewField
	KeySecure
	KeyChip
	KeyLeft
	KeyRight
	KeyQuit
	KeyNone
)

// Key is one decoded key press. Text holds the committed text for KeyText
// and the selector for KeyChip.
type Key struct {
	Kind KeyKind
	Text string
}

// KeyReader decodes raw terminal bytes into keys.
type KeyReader struct {
	r *bufio.Reader
}

// NewKeyReader returns a decoder reading from r.
func NewKeyReader(r io.Reader) *KeyReader {
	return &KeyReader{r: bufio.NewReader(r)}
}

// ReadKey blocks for the next key. Ctrl-C and Ctrl-D return KeyQuit.
func (k *KeyReader) ReadKey() (Key, error) {
	b, err := k.r.ReadByte()
	if err != nil {
		return Key{}, err
	}

	switch b {
	case 3, 4: // Ctrl-C, Ctrl-D
		return Key{Kind: KeyQuit}, nil
	case 9: // Tab
		return Key{Kind: KeyAccept}, nil
	case 13, 10: // Enter
		return Key{Kind: KeyText, Text: "\n"}, nil
	case 127, 8: // Backspace / Ctrl-H
		return Key{Kind: KeyBackspace}, nil
	case 14: // Ctrl-N
		return Key{Kind: KeyNewField}, nil
	case 16: // Ctrl-P
		return Key{Kind: KeySecure}, nil
	case 7: // Ctrl-G, then the chip selector
		sel, err := k.r.ReadByte()
		if err != nil {
			return Key{}, err
		}
		return Key{Kind: KeyChip, Text: string(sel)}, nil
	case 27: // Escape sequence
		return k.readEscape()
	}

	if b < 32 {
		return Key{Kind: KeyNone}, nil
	}
	if err := k.r.UnreadByte(); err != nil {
		return Key{}, err
	}
	r, _, err := k.r.ReadRune()
	if err != nil {
		return Key{}, err
	}
	if r == utf8.RuneError {
		return Key{Kind: KeyNone}, nil
	}
	return Key{Kind: KeyText, Text: string(r)}, nil
}

func (k *KeyReader) readEscape() (Key, error) {
	b, err := k.r.ReadByte()
	if err != nil || b != '[' {
		return Key{Kind: KeyNone}, err
	}
	b, err = k.r.ReadByte()
	if err != nil {
		return Key{}, err
	}
	switch b {
	case 'D':
		return Key{Kind: KeyLeft}, nil
	case 'C':
		return Key{Kind: KeyRight}, nil
	case '3': // Delete key: \x1b[3~
		k.r.ReadByte()
	}
	return Key{Kind: KeyNone}, nil
}

// Document is the text field edited in the terminal. It is shared between
// the input goroutine and the session loop.
type Document struct {
	mu  sync.Mutex
	buf []byte
	pos int // cursor byte offset into buf
}

// Before returns the text before the cursor.
func (d *Document) Before() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf[:d.pos])
}

// After returns the text after the cursor.
func (d *Document) After() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf[d.pos:])
}

// Insert adds text at the cursor.
func (d *Document) Insert(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insert(text)
}

func (d *Document) insert(text string) {
	ch := []byte(text)
	d.buf = append(d.buf, make([]byte, len(ch))...)
	copy(d.buf[d.pos+len(ch):], d.buf[d.pos:len(d.buf)-len(ch)])
	copy(d.buf[d.pos:], ch)
	d.pos += len(ch)
}

// Backspace deletes the rune before the cursor and reports whether one existed.
func (d *Document) Backspace() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deleteBefore(1) > 0
}

func (d *Document) deleteBefore(n int) int {
	deleted := 0
	for ; deleted < n && d.pos > 0; deleted++ {
		_, size := prevRune(d.buf, d.pos)
		copy(d.buf[d.pos-size:], d.buf[d.pos:])
		d.buf = d.buf[:len(d.buf)-size]
		d.pos -= size
	}
	return deleted
}

// Apply deletes del runes before the cursor and inserts text.
func (d *Document) Apply(del int, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteBefore(del)
	d.insert(text)
}

// Move shifts the cursor by delta runes and reports whether it moved.
func (d *Document) Move(delta int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := d.pos
	for ; delta < 0 && d.pos > 0; delta++ {
		_, size := prevRune(d.buf, d.pos)
		d.pos -= size
	}
	for ; delta > 0 && d.pos < len(d.buf); delta-- {
		_, size := utf8.DecodeRune(d.buf[d.pos:])
		d.pos += size
	}
	return d.pos != start
}

// Reset empties the field.
func (d *Document) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
	d.pos = 0
}

// Terminal owns the raw-mode tty. It reads from /dev/tty so it works even
// when stdout is redirected.
type Terminal struct {
	tty      *os.File
	oldState *term.State
}

// OpenTerminal opens /dev/tty and switches to raw mode.
func OpenTerminal() (*Terminal, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return &Terminal{tty: tty, oldState: old}, nil
}

// Close restores terminal state and closes the tty fd.
func (t *Terminal) Close() {
	term.Restore(int(t.tty.Fd()), t.oldState)
	t.tty.Close()
}

// Tty returns the tty file for reading keys and drawing the UI.
func (t *Terminal) Tty() *os.File {
	return t.tty
}

// prevRune returns the rune and byte size of the rune before pos.
func prevRune(buf []byte, pos int) (rune, int) {
	if pos <= 0 {
		return 0, 0
	}
	// Walk back to find the start of the rune
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	r, size := utf8.DecodeRune(buf[i:pos])
	return r, size
}
