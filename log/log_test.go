package log

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func capture(t *testing.T, level int) *bytes.Buffer {
	t.Helper()
	oldTarget, oldLevel := Target, Level
	t.Cleanup(func() {
		Target, Level = oldTarget, oldLevel
	})
	var buf bytes.Buffer
	Target = &buf
	Level = level
	return &buf
}

func TestLevels(t *testing.T) {
	buf := capture(t, 1)
	Ln(1, "shown", 1)
	Ln(2, "hidden")
	F(0, "%v-%v\n", "a", 2)
	Warn("careful")
	want := "shown 1\na-2\nWarning: careful\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestTrackPrefix(t *testing.T) {
	buf := capture(t, 2)
	l := For(3, 1)
	l.Ln(2, "found", 9, "sectors")
	l.F(3, "hidden\n")
	l.Warn("bad ID")
	want := "T03.1: found 9 sectors\nT03.1: Warning: bad ID\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestTimeDisabled(t *testing.T) {
	buf := capture(t, 0)
	done := Time(1, "working... ")
	done("done in")
	if buf.Len() != 0 {
		t.Errorf("disabled timer wrote %q", buf.String())
	}
}

func TestConcurrentLines(t *testing.T) {
	buf := capture(t, 1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(track int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				For(track, 0).Ln(1, "line")
			}
		}(i)
	}
	wg.Wait()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 8*50 {
		t.Fatalf("got %v lines", len(lines))
	}
	for _, l := range lines {
		if !strings.HasSuffix(l, ".0: line") {
			t.Fatalf("interleaved line %q", l)
		}
	}
}
