package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551234567", "+15551234567", true},
		{"15551234567", "+15551234567", true},
		{"5551234567", "+15551234567", true},
		{"(555) 123-4567", "+15551234567", true},
		{"555.123.4567", "+15551234567", true},
		{"+44 20 7946 0958", "+442079460958", true},
		{"", "", false},
		{"abc", "", false},
		{"123", "", false},
		{"+0123456789", "", false},
		{"01234567890123456789", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeE164(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("NormalizeE164(%q): unexpected error %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("NormalizeE164(%q): expected error, got %q", tc.in, got)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("NormalizeE164(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsE164(t *testing.T) {
	if !IsE164("+15551234567") {
		t.Fatalf("expected valid")
	}
	if IsE164("15551234567") {
		t.Fatalf("expected invalid without plus")
	}
	if IsE164("+1555123456a") {
		t.Fatalf("expected invalid with letter")
	}
	if IsE164("+0555123456") {
		t.Fatalf("expected invalid with leading zero")
	}
}
