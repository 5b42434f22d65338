//go:build !windows

package diskusage

import "testing"

func TestGetReturnsPlausibleValues(t *testing.T) {
	u, err := Get(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if u.TotalBytes <= 0 {
		t.Errorf("TotalBytes = %d, want > 0", u.TotalBytes)
	}
	if u.AvailBytes < 0 || u.AvailBytes > u.TotalBytes {
		t.Errorf("AvailBytes = %d out of range [0, %d]", u.AvailBytes, u.TotalBytes)
	}
}

func TestFreeFractionInRange(t *testing.T) {
	f := FreeFraction(t.TempDir())
	if f < 0 || f > 1 {
		t.Errorf("FreeFraction = %v, want in [0, 1]", f)
	}
}

func TestFreeFractionZeroOnError(t *testing.T) {
	f := FreeFraction("/this/path/does/not/exist/at/all")
	if f != 0 {
		t.Errorf("FreeFraction on a missing path = %v, want 0", f)
	}
}
