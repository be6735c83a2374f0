package irc

import "strings"

// MaxPendingBytes bounds the unterminated tail a LineBuffer keeps between
// frames. Twitch lines, tags included, stay well below this.
const MaxPendingBytes = 64 << 10

// LineBuffer splits socket frames into protocol lines. A frame may hold
// several newline-terminated lines; an unterminated tail is kept and
// prefixed to the next frame instead of being parsed early.
//
// A tail that outgrows MaxPendingBytes is dropped together with the rest of
// its line: input is skipped up to the next "\n".
//
// A LineBuffer is owned by a single reader and is not safe for concurrent use.
type LineBuffer struct {
	pending    string
	discarding bool
	dropped    int
}

// Feed appends chunk and returns the complete, non-empty lines it finished,
// in order, with any trailing "\r" removed.
func (b *LineBuffer) Feed(chunk string) []string {
	data := chunk
	if b.discarding {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			return nil
		}
		data = data[i+1:]
		b.discarding = false
	}
	if b.pending != "" {
		data = b.pending + data
		b.pending = ""
	}

	var lines []string
	for {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(data[:i])
		data = data[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(data) > MaxPendingBytes {
		b.dropped++
		b.discarding = true
		data = ""
	}
	b.pending = data
	return lines
}

// Pending returns the buffered unterminated tail.
func (b *LineBuffer) Pending() string { return b.pending }

// Dropped reports how many oversized tails were discarded.
func (b *LineBuffer) Dropped() int { return b.dropped }
