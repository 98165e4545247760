package validate

import "testing"

func TestEmail(t *testing.T) {
	cases := map[string]bool{
		"buyer@example.com":         true,
		" buyer@example.com ":       true,
		"Buyer <buyer@example.com>": false,
		"buyer@localhost":           false,
		"buyer":                     false,
		"":                          false,
	}
	for in, want := range cases {
		if got := Email(in); got != want {
			t.Fatalf("Email(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCurrency(t *testing.T) {
	if !Currency("INR") {
		t.Fatalf("INR must be accepted")
	}
	for _, bad := range []string{"inr", "IN", "INRR", "1NR", ""} {
		if Currency(bad) {
			t.Fatalf("currency %q must be rejected", bad)
		}
	}
}
