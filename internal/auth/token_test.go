package auth

import "testing"

func TestSignAndParseSession(t *testing.T) {
	secret := []byte("secret")
	sid := NewSessionID()
	value := SignSession(secret, sid)

	parsed, err := ParseSession(secret, value)
	if err != nil {
		t.Fatalf("ParseSession() error = %v", err)
	}
	if parsed != sid {
		t.Fatalf("ParseSession() = %q, want %q", parsed, sid)
	}
}

func TestParseSessionRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	value := SignSession(secret, "abc")

	cases := []string{
		"",
		"abc",
		"abc.",
		".sig",
		"abd" + value[3:],
	}
	for _, tc := range cases {
		if _, err := ParseSession(secret, tc); err == nil {
			t.Fatalf("expected ParseSession(%q) to fail", tc)
		}
	}
	if _, err := ParseSession([]byte("other"), value); err == nil {
		t.Fatal("expected ParseSession() to fail with a different secret")
	}
}

func TestTokensEqual(t *testing.T) {
	if !TokensEqual("abc", "abc") {
		t.Fatal("identical tokens should match")
	}
	if TokensEqual("abc", "abd") {
		t.Fatal("different tokens should not match")
	}
	if TokensEqual("", "") {
		t.Fatal("empty expected token must never match")
	}
}
