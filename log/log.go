package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the current logging level - the maximum level of logs that
// will actually be output.
var Level int = 1

// Target is where the logging will be output to.
var Target io.Writer = os.Stdout

// Tracks are decoded in parallel, so writes to Target are serialized.
var mu sync.Mutex

func write(f string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(Target, f, v...)
}

func Log(level int, v ...any) {
	if Level >= level {
		write("%s", fmt.Sprint(v...))
	}
}

func Ln(level int, v ...any) {
	if Level >= level {
		write("%s", fmt.Sprintln(v...))
	}
}

func F(level int, f string, v ...any) {
	if Level >= level {
		write(f, v...)
	}
}

func Warn(v ...any) {
	if Level >= 0 {
		write("%s", fmt.Sprintln(append([]any{"Warning:"}, v...)...))
	}
}

func Time(level int, f string, v ...any) func(...any) {
	if Level < level {
		return func(...any) {}
	}
	write(f, v...)
	start := time.Now()
	return func(v ...any) {
		dur := time.Since(start)
		write("%s", fmt.Sprintln(append(v, dur)...))
	}
}

// Track logs with a prefix naming the track and head a line is about.
type Track struct {
	prefix string
}

// For returns the logger for a track and head.
func For(track, head int) Track {
	return Track{prefix: fmt.Sprintf("T%02d.%d: ", track, head)}
}

func (t Track) Ln(level int, v ...any) {
	if Level >= level {
		write("%s%s", t.prefix, fmt.Sprintln(v...))
	}
}

func (t Track) F(level int, f string, v ...any) {
	if Level >= level {
		write("%s%s", t.prefix, fmt.Sprintf(f, v...))
	}
}

func (t Track) Warn(v ...any) {
	if Level >= 0 {
		write("%sWarning: %s", t.prefix, fmt.Sprintln(v...))
	}
}
