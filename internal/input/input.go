// Package input reads keystrokes from a raw-mode terminal and hands them
// to the event loop one bounded poll at a time.
package input

import (
	"os"
	"time"

	"golang.org/x/term"

	"github.com/rewired-gh/polyterm/internal/logger"
)

// KeyKind classifies a decoded keystroke.
type KeyKind int

const (
	KeyRune KeyKind = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyPageUp
	KeyPageDown
	KeyHome
	KeyEnd
	KeyEnter
	KeyEscape
	KeyBackspace
	KeyTab
	KeyCtrlC
)

// Key is one decoded keystroke. Rune is set only for KeyRune.
type Key struct {
	Kind KeyKind
	Rune rune
}

// Source yields keystrokes with a bounded wait. Poll returns false when
// the timeout elapses with no input.
type Source interface {
	Poll(timeout time.Duration) (Key, bool)
}

// Terminal is a Source backed by stdin in raw mode. A background reader
// decodes escape sequences and buffers keys; Poll never blocks past its
// timeout.
type Terminal struct {
	fd       int
	oldState *term.State
	keys     chan Key
	stop     chan struct{}
}

// Open switches stdin to raw mode and starts the reader.
func Open() (*Terminal, error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	t := &Terminal{
		fd:       fd,
		oldState: oldState,
		keys:     make(chan Key, 64),
		stop:     make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Close restores the terminal state. The reader goroutine exits on its
// next read; stdin cannot be unblocked portably, so the process should
// be on its way out when Close is called.
func (t *Terminal) Close() error {
	close(t.stop)
	return term.Restore(t.fd, t.oldState)
}

// Poll returns the next buffered key, waiting at most timeout.
func (t *Terminal) Poll(timeout time.Duration) (Key, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case k := <-t.keys:
		return k, true
	case <-timer.C:
		return Key{}, false
	}
}

func (t *Terminal) readLoop() {
	buf := make([]byte, 64)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			logger.Debug("Stdin read ended: %v", err)
			return
		}
		for _, k := range Decode(buf[:n]) {
			select {
			case t.keys <- k:
			case <-t.stop:
				return
			}
		}
	}
}

// Decode translates one raw read into keystrokes. In raw mode a single
// read delivers a whole escape sequence, so sequences never straddle
// reads in practice; an unrecognized sequence is dropped rather than
// leaked as stray runes.
func Decode(raw []byte) []Key {
	var keys []Key
	for i := 0; i < len(raw); {
		b := raw[i]
		switch {
		case b == 0x1b:
			k, consumed := decodeEscape(raw[i:])
			if consumed == 0 {
				// Lone ESC at the end of the read
				keys = append(keys, Key{Kind: KeyEscape})
				i++
				continue
			}
			if k != nil {
				keys = append(keys, *k)
			}
			i += consumed
		case b == 0x03:
			keys = append(keys, Key{Kind: KeyCtrlC})
			i++
		case b == '\r' || b == '\n':
			keys = append(keys, Key{Kind: KeyEnter})
			i++
		case b == 0x7f || b == 0x08:
			keys = append(keys, Key{Kind: KeyBackspace})
			i++
		case b == '\t':
			keys = append(keys, Key{Kind: KeyTab})
			i++
		case b >= 0x20 && b < 0x7f:
			keys = append(keys, Key{Kind: KeyRune, Rune: rune(b)})
			i++
		default:
			// Other control bytes and non-ASCII input are ignored
			i++
		}
	}
	return keys
}

// decodeEscape decodes a CSI sequence starting at raw[0] == ESC. It
// returns the key (nil for unrecognized sequences) and the number of
// bytes consumed; consumed 0 means the ESC stood alone.
func decodeEscape(raw []byte) (*Key, int) {
	if len(raw) < 2 {
		return nil, 0
	}
	if raw[1] != '[' && raw[1] != 'O' {
		// ESC followed by a plain byte, as sent by Alt-key combos; treat
		// the ESC as a keypress and let the next byte decode on its own.
		return &Key{Kind: KeyEscape}, 1
	}
	if len(raw) < 3 {
		return nil, 0
	}
	switch raw[2] {
	case 'A':
		return &Key{Kind: KeyUp}, 3
	case 'B':
		return &Key{Kind: KeyDown}, 3
	case 'C':
		return &Key{Kind: KeyRight}, 3
	case 'D':
		return &Key{Kind: KeyLeft}, 3
	case 'H':
		return &Key{Kind: KeyHome}, 3
	case 'F':
		return &Key{Kind: KeyEnd}, 3
	}
	// Numbered sequences: ESC [ <digits> ~
	j := 2
	for j < len(raw) && raw[j] >= '0' && raw[j] <= '9' {
		j++
	}
	if j < len(raw) && raw[j] == '~' {
		switch string(raw[2:j]) {
		case "1", "7":
			return &Key{Kind: KeyHome}, j + 1
		case "4", "8":
			return &Key{Kind: KeyEnd}, j + 1
		case "5":
			return &Key{Kind: KeyPageUp}, j + 1
		case "6":
			return &Key{Kind: KeyPageDown}, j + 1
		}
		return nil, j + 1
	}
	if j < len(raw) {
		// Unrecognized final byte; swallow the sequence
		return nil, j + 1
	}
	return nil, 0
}
