//go:build !integration

package security

import (
	"errors"
	"strings"
	"testing"
)

func TestContentCipher_RoundTrip(t *testing.T) {
	t.Parallel()
	c, err := NewContentCipher(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sealed, err := c.Seal("hello", "msg-1")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "hello") {
		t.Fatalf("content not sealed: %q", sealed)
	}
	got, err := c.Open(sealed, "msg-1")
	if err != nil || got != "hello" {
		t.Fatalf("open: %q %v", got, err)
	}
	if _, err := c.Open(sealed, "msg-2"); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("moved row must not open: %v", err)
	}
}

func TestContentCipher_PlainRowsPassThrough(t *testing.T) {
	t.Parallel()
	c, _ := NewContentCipher(strings.Repeat("k", 16))
	if got, err := c.Open("legacy text", "x"); err != nil || got != "legacy text" {
		t.Fatalf("plain row: %q %v", got, err)
	}
}

func TestNewContentCipher_KeyLength(t *testing.T) {
	t.Parallel()
	if _, err := NewContentCipher("short"); err == nil {
		t.Fatal("short key must be rejected")
	}
}
