package supervisor

import "strings"

// tail keeps the last maxLines lines, capped at maxBytes when rendered.
type tail struct {
	lines    []string
	next     int
	full     bool
	maxBytes int
}

func newTail(maxLines, maxBytes int) *tail {
	return &tail{lines: make([]string, maxLines), maxBytes: maxBytes}
}

func (t *tail) add(line string) {
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

func (t *tail) String() string {
	var ordered []string
	if t.full {
		ordered = append(ordered, t.lines[t.next:]...)
	}
	ordered = append(ordered, t.lines[:t.next]...)

	s := strings.Join(ordered, "\n")
	if len(s) > t.maxBytes {
		s = s[len(s)-t.maxBytes:]
	}
	return s
}
