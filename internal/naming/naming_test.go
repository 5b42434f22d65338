package naming

import (
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		id := ResourceId(r.Uint64())

		h1 := Hash1Dir(id)
		h2 := Hash2Dir(id)
		res := ResourceDir(id)

		got, err := ParseId(h1, h2, res)
		if err != nil {
			t.Fatalf("ParseId(%s,%s,%s): %v", h1, h2, res, err)
		}
		if got != id {
			t.Fatalf("round trip mismatch: %x != %x", got, id)
		}

		// the three sub-fields must reassemble by bitwise OR
		p1, _ := ParseHash1(h1)
		p2, _ := ParseHash2(h2)
		p3, _ := ParseResource(res)
		if ResourceId(p1<<48|p2<<16|p3) != id {
			t.Fatalf("bitwise reassembly mismatch for %x", id)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		id := ResourceId(r.Uint64())
		s := Format(id)
		if len(s) != 16 {
			t.Fatalf("Format(%x) = %q, want length 16", uint64(id), s)
		}
		got, err := ParseFormatted(s)
		if err != nil {
			t.Fatalf("ParseFormatted(%q): %v", s, err)
		}
		if got != id {
			t.Fatalf("ParseFormatted(Format(%x)) = %x", uint64(id), uint64(got))
		}
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		fn   func(string) (uint64, error)
	}{
		{"hash1", ParseHash1},
		{"hash2", ParseHash2},
		{"resource", ParseResource},
	}
	widths := map[string]int{"hash1": Hash1Chars, "hash2": Hash2Chars, "resource": ResourceChars}

	for _, c := range cases {
		w := widths[c.name]
		good := make([]byte, w)
		for i := range good {
			good[i] = '0'
		}

		// wrong length
		if _, err := c.fn(string(good[:max(0, w-1)])); err == nil {
			t.Errorf("%s: expected error for short input", c.name)
		}
		if _, err := c.fn(string(good) + "0"); err == nil {
			t.Errorf("%s: expected error for long input", c.name)
		}

		// upper-case hex must be rejected, not normalized
		upper := make([]byte, w)
		for i := range upper {
			upper[i] = 'A'
		}
		if _, err := c.fn(string(upper)); err == nil {
			t.Errorf("%s: expected error for upper-case hex", c.name)
		}

		// non-hex character
		bad := make([]byte, w)
		for i := range bad {
			bad[i] = 'g'
		}
		if _, err := c.fn(string(bad)); err == nil {
			t.Errorf("%s: expected error for non-hex character", c.name)
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func TestIsNewResourceDirName(t *testing.T) {
	cases := map[string]bool{
		"abcd.new":  true,
		"ABCD.new":  false,
		"abcd.old":  false,
		"abc.new":   false,
		"abcde.new": false,
		"abcd":      false,
	}
	for name, want := range cases {
		if got := IsNewResourceDirName(name); got != want {
			t.Errorf("IsNewResourceDirName(%q) = %v, want %v", name, got, want)
		}
	}
}
