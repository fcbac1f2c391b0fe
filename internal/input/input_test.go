package input

import (
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want []Key
	}{
		{"letter", []byte("q"), []Key{{Kind: KeyRune, Rune: 'q'}}},
		{"digits", []byte("42"), []Key{{Kind: KeyRune, Rune: '4'}, {Kind: KeyRune, Rune: '2'}}},
		{"enter cr", []byte{'\r'}, []Key{{Kind: KeyEnter}}},
		{"enter lf", []byte{'\n'}, []Key{{Kind: KeyEnter}}},
		{"backspace del", []byte{0x7f}, []Key{{Kind: KeyBackspace}}},
		{"backspace bs", []byte{0x08}, []Key{{Kind: KeyBackspace}}},
		{"tab", []byte{'\t'}, []Key{{Kind: KeyTab}}},
		{"ctrl-c", []byte{0x03}, []Key{{Kind: KeyCtrlC}}},
		{"lone escape", []byte{0x1b}, []Key{{Kind: KeyEscape}}},
		{"arrow up", []byte("\x1b[A"), []Key{{Kind: KeyUp}}},
		{"arrow down", []byte("\x1b[B"), []Key{{Kind: KeyDown}}},
		{"arrow right", []byte("\x1b[C"), []Key{{Kind: KeyRight}}},
		{"arrow left", []byte("\x1b[D"), []Key{{Kind: KeyLeft}}},
		{"home", []byte("\x1b[H"), []Key{{Kind: KeyHome}}},
		{"end", []byte("\x1b[F"), []Key{{Kind: KeyEnd}}},
		{"page up", []byte("\x1b[5~"), []Key{{Kind: KeyPageUp}}},
		{"page down", []byte("\x1b[6~"), []Key{{Kind: KeyPageDown}}},
		{"numbered home", []byte("\x1b[1~"), []Key{{Kind: KeyHome}}},
		{"arrow then letter", []byte("\x1b[Bq"), []Key{{Kind: KeyDown}, {Kind: KeyRune, Rune: 'q'}}},
		{"unknown tilde seq dropped", []byte("\x1b[9~x"), []Key{{Kind: KeyRune, Rune: 'x'}}},
		{"alt combo yields escape then rune", []byte{0x1b, 'f'}, []Key{{Kind: KeyEscape}, {Kind: KeyRune, Rune: 'f'}}},
		{"control byte ignored", []byte{0x01, 'a'}, []Key{{Kind: KeyRune, Rune: 'a'}}},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d keys, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("key %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPollTimeout(t *testing.T) {
	term := &Terminal{keys: make(chan Key, 1), stop: make(chan struct{})}

	start := time.Now()
	if _, ok := term.Poll(20 * time.Millisecond); ok {
		t.Fatal("unexpected key from empty source")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("poll returned after %v, want at least 20ms", elapsed)
	}

	term.keys <- Key{Kind: KeyRune, Rune: 'x'}
	k, ok := term.Poll(time.Second)
	if !ok || k.Rune != 'x' {
		t.Errorf("poll = %+v, %v", k, ok)
	}
}
