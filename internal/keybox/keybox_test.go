package keybox

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	var secret [SecretLen]byte
	if _, err := rand.Read(secret[:]); err != nil {
		t.Fatalf("read random secret: %v", err)
	}
	b, err := New(secret)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestParseSecret(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "valid", in: strings.Repeat("ab", 32)},
		{name: "valid with whitespace", in: "  " + strings.Repeat("0f", 32) + "\n"},
		{name: "too short", in: strings.Repeat("ab", 31), wantErr: true},
		{name: "too long", in: strings.Repeat("ab", 33), wantErr: true},
		{name: "not hex", in: strings.Repeat("zz", 32), wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSecret(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSecret(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	b := testBox(t)

	for i := 0; i < 16; i++ {
		plain := make([]byte, 32)
		if _, err := rand.Read(plain); err != nil {
			t.Fatalf("read random key: %v", err)
		}

		ct, nonce, err := b.Seal(plain)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		got, err := b.Open(ct, nonce)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("round trip mismatch: got %x, want %x", got, plain)
		}
	}
}

func TestSealUsesFreshNonces(t *testing.T) {
	b := testBox(t)
	plain := []byte("0123456789abcdef0123456789abcdef")

	_, n1, err := b.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	_, n2, err := b.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(n1, n2) {
		t.Fatal("two Seal calls produced the same nonce")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	b := testBox(t)
	plain := []byte("0123456789abcdef0123456789abcdef")
	ct, nonce, err := b.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(ct, nonce []byte) (c, n []byte)
	}{
		{
			name: "flip first ciphertext byte",
			mutate: func(ct, nonce []byte) ([]byte, []byte) {
				ct[0] ^= 0xff
				return ct, nonce
			},
		},
		{
			name: "flip last ciphertext byte",
			mutate: func(ct, nonce []byte) ([]byte, []byte) {
				ct[len(ct)-1] ^= 0x01
				return ct, nonce
			},
		},
		{
			name: "flip nonce byte",
			mutate: func(ct, nonce []byte) ([]byte, []byte) {
				nonce[3] ^= 0x10
				return ct, nonce
			},
		},
		{
			name: "truncated ciphertext",
			mutate: func(ct, nonce []byte) ([]byte, []byte) {
				return ct[:len(ct)-1], nonce
			},
		},
		{
			name: "short nonce",
			mutate: func(ct, nonce []byte) ([]byte, []byte) {
				return ct, nonce[:len(nonce)-1]
			},
		},
		{
			name: "empty nonce",
			mutate: func(ct, nonce []byte) ([]byte, []byte) {
				return ct, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := bytes.Clone(ct)
			n := bytes.Clone(nonce)
			c, n = tt.mutate(c, n)
			if _, err := b.Open(c, n); !errors.Is(err, ErrKeyEncryption) {
				t.Errorf("Open after mutation: error = %v, want ErrKeyEncryption", err)
			}
		})
	}
}

func TestOpenWrongKey(t *testing.T) {
	b1 := testBox(t)
	b2 := testBox(t)

	ct, nonce, err := b1.Seal([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := b2.Open(ct, nonce); !errors.Is(err, ErrKeyEncryption) {
		t.Errorf("Open with wrong key: error = %v, want ErrKeyEncryption", err)
	}
}
