package convo

import "testing"

func TestNormalizeKenyanPhone(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		valid bool
	}{
		{"0712345678", "+254712345678", true},
		{"0112345678", "+254112345678", true},
		{" 0712 345 678 ", "+254712345678", true},
		{"0712-345-678", "+254712345678", true},
		{"712345678", "", false},
		{"0812345678", "", false},
		{"071234567", "", false},
		{"07123456789", "", false},
		{"+254712345678", "", false},
		{"hello", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeKenyanPhone(tc.in)
		if ok != tc.valid {
			t.Fatalf("NormalizeKenyanPhone(%q) valid=%v, want %v", tc.in, ok, tc.valid)
		}
		if got != tc.want {
			t.Fatalf("NormalizeKenyanPhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
