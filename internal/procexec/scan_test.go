package procexec

import (
	"bufio"
	"strings"
	"testing"
)

func TestSplitLinesHandlesMixedTerminators(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("a\r\nb\rc\n\n\rd"))
	scanner.Split(splitLines)
	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	if strings.Join(got, ",") != "a,b,c,d" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractError(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{"empty", nil, ""},
		{"tagged", []string{"[error] first", "noise", "[error] second", "tail"}, "second"},
		{"fallback", []string{"one", "last line", "  "}, "last line"},
	}
	for _, tt := range tests {
		if got := ExtractError(tt.lines); got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestLineRingKeepsNewest(t *testing.T) {
	ring := NewLineRing(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		ring.Add(l)
	}
	if got := strings.Join(ring.Lines(), ""); got != "cde" {
		t.Fatalf("Lines = %q", got)
	}
	if got := strings.Join(ring.LastN(2), ""); got != "de" {
		t.Fatalf("LastN = %q", got)
	}
	if ring.Len() != 3 {
		t.Fatalf("Len = %d", ring.Len())
	}
	empty := NewLineRing(0)
	if len(empty.Lines()) != 0 {
		t.Fatal("expected empty ring")
	}
}
