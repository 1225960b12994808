package format

import "testing"

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1 KB"},
		{1500, "1.5 KB"},
		{12_345, "12 KB"},
		{3 * MegaByte, "3 MB"},
		{2_500_000_000, "2.5 GB"},
		{TeraByte, "1 TB"},
	}

	for _, tt := range cases {
		if got := HumanBytes(tt.in); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
