package media

import "testing"

func TestDurationProgress(t *testing.T) {
	p := NewDurationProgress(0)
	if _, ok := p.Feed("frame=1 time=00:00:10.00"); ok {
		t.Fatal("no progress before a total is known")
	}
	if _, ok := p.Feed("  Duration: N/A, start: 0"); ok {
		t.Fatal("N/A duration must not report")
	}
	if _, ok := p.Total(); ok {
		t.Fatal("total should still be unknown")
	}
	p.Feed("  Duration: 00:02:00.00, start: 0.000000")
	p.Feed("  Duration: 00:10:00.00, start: 0.000000")
	if total, ok := p.Total(); !ok || total != 120 {
		t.Fatalf("total = %v, %v (first duration line wins)", total, ok)
	}

	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"frame=1 time=00:00:30.00 bitrate=1", 0.25, true},
		{"size=1kB time=00:01:00.00", 0.5, true},
		{"time=00:03:00.00", 1, true},
		{"time=N/A", 0, false},
		{"unrelated", 0, false},
	}
	for _, tc := range cases {
		got, ok := p.Feed(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Errorf("Feed(%q) = %v, %v; want %v, %v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDurationProgressFixedTotal(t *testing.T) {
	p := NewDurationProgress(30)
	p.Feed("Duration: 01:00:00.00")
	if total, _ := p.Total(); total != 30 {
		t.Fatalf("fixed total replaced: %v", total)
	}
	if got, ok := p.Feed("time=00:00:15.00"); !ok || got != 0.5 {
		t.Fatalf("Feed = %v, %v", got, ok)
	}
}
