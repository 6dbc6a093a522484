package crypto

import (
	"errors"
	"strings"
	"testing"
	"unicode"
)

func TestRandomTokenUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := RandomToken()
		if err != nil {
			t.Fatalf("RandomToken: %v", err)
		}
		if len(tok) != TokenBytes*2 {
			t.Fatalf("expected %d hex chars, got %d", TokenBytes*2, len(tok))
		}
		if seen[tok] {
			t.Fatal("duplicate token generated")
		}
		seen[tok] = true
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("hash should be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("different inputs should hash differently")
	}
	if HashToken("abc") == "abc" {
		t.Error("hash must not equal input")
	}
}

func TestEqual(t *testing.T) {
	if !Equal("token", "token") {
		t.Error("identical strings should be equal")
	}
	if Equal("token", "tokeN") {
		t.Error("strings differing by one char should not be equal")
	}
	if Equal("token", "token1") {
		t.Error("strings of different length should not be equal")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("Secret123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := CheckPassword(hash, "Secret123"); err != nil {
		t.Errorf("expected match, got %v", err)
	}
	if err := CheckPassword(hash, "secret123"); !errors.Is(err, ErrMismatchedPassword) {
		t.Errorf("expected ErrMismatchedPassword, got %v", err)
	}
}

func TestRandomPasswordClasses(t *testing.T) {
	for i := 0; i < 20; i++ {
		pw, err := RandomPassword(12)
		if err != nil {
			t.Fatalf("RandomPassword: %v", err)
		}
		if len(pw) != 12 {
			t.Fatalf("expected length 12, got %d", len(pw))
		}
		var lower, upper, digit, symbol bool
		for _, r := range pw {
			switch {
			case unicode.IsLower(r):
				lower = true
			case unicode.IsUpper(r):
				upper = true
			case unicode.IsDigit(r):
				digit = true
			case strings.ContainsRune(symbolChars, r):
				symbol = true
			}
		}
		if !lower || !upper || !digit || !symbol {
			t.Errorf("password %q missing a character class", pw)
		}
	}
}
