// Package irc decodes Twitch chat protocol lines: IRCv3 message tags, the
// optional source prefix, the command and its parameters. PRIVMSG lines are
// specialised into ChatMessage values for rendering.
//
// The parser is a position-based strip-left scan over the input string. It
// slices instead of copying and never uses regular expressions.
package irc

import (
	"errors"
	"strings"
)

// ErrMalformedLine is returned when a line has no command after its tag
// block and prefix have been stripped.
var ErrMalformedLine = errors.New("irc: malformed line")

// Tags maps tag keys to tag values as they appeared on the wire.
type Tags map[string]string

// Line is one decoded protocol line.
type Line struct {
	Raw     string
	Tags    Tags
	Prefix  string // empty when the line carried no ":prefix"
	Command string
	Params  string
}

// ParseTags splits a raw tag block (without the leading '@') into a map.
// Entries without '=' are dropped. Values are not unescaped.
func ParseTags(raw string) Tags {
	tags := make(Tags, strings.Count(raw, ";")+1)
	for len(raw) > 0 {
		var entry string
		if i := strings.IndexByte(raw, ';'); i >= 0 {
			entry, raw = raw[:i], raw[i+1:]
		} else {
			entry, raw = raw, ""
		}
		eq := strings.IndexByte(entry, '=')
		if eq < 0 {
			continue
		}
		tags[entry[:eq]] = entry[eq+1:]
	}
	return tags
}

// Get returns the unescaped value for key.
func (t Tags) Get(key string) (string, bool) {
	v, ok := t[key]
	if !ok {
		return "", false
	}
	return UnescapeTagValue(v), true
}

// Decoded returns a copy of t with every value unescaped.
func (t Tags) Decoded() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = UnescapeTagValue(v)
	}
	return out
}

// UnescapeTagValue reverses IRCv3 tag value escaping: \: is ';', \s is a
// space, \\ is a backslash, \r and \n are CR and LF. Any other escaped
// character stands for itself and a trailing lone backslash is dropped.
func UnescapeTagValue(v string) string {
	i := strings.IndexByte(v, '\\')
	if i < 0 {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	b.WriteString(v[:i])
	for ; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(v) {
			break
		}
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// ParseLine decodes a single protocol line. The tag block and the prefix are
// both optional. A trailing "\r" is ignored.
func ParseLine(line string) (Line, error) {
	line = strings.TrimSuffix(line, "\r")
	l := Line{Raw: line}
	rest := line

	if strings.HasPrefix(rest, "@") {
		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			return l, ErrMalformedLine
		}
		l.Tags = ParseTags(rest[1:i])
		rest = strings.TrimLeft(rest[i+1:], " ")
	} else {
		l.Tags = Tags{}
	}

	if strings.HasPrefix(rest, ":") {
		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			return l, ErrMalformedLine
		}
		l.Prefix = rest[1:i]
		rest = strings.TrimLeft(rest[i+1:], " ")
	}

	if i := strings.IndexByte(rest, ' '); i >= 0 {
		l.Command, l.Params = rest[:i], rest[i+1:]
	} else {
		l.Command = rest
	}
	if l.Command == "" {
		return l, ErrMalformedLine
	}
	return l, nil
}

// Nick returns the nickname part of a "nick!user@host" prefix.
func Nick(prefix string) string {
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		return prefix[:i]
	}
	return prefix
}
