// Package sse decodes the `data:`-framed JSON records of a server push
// stream. Partial records are buffered until the next chunk completes them;
// malformed records are dropped.
package sse

import (
	"bytes"
	"errors"
	"io"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const dataPrefix = "data:"

// readChunk is the read size used by Scan.
const readChunk = 4096

// MaxRecord caps both a single line and a carried partial record.
const MaxRecord = 1 << 20

// Decoder turns raw stream chunks into complete JSON payloads.
type Decoder struct {
	buf      []byte // bytes after the last newline
	carry    []byte // a data payload cut off mid-record
	skipping bool   // discarding the rest of an oversized line
}

// Feed consumes one chunk and returns every payload completed by it.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	d.buf = append(d.buf, chunk...)

	var out [][]byte
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(d.buf[:i], "\r")
		if d.skipping {
			d.skipping = false
		} else if p := d.line(line); p != nil {
			out = append(out, p)
		}
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) > MaxRecord {
		log.Debug().Int("bytes", len(d.buf)).Msg("Dropping oversized stream line")
		d.buf = nil
		d.skipping = true
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush processes whatever is left once the stream has ended.
func (d *Decoder) Flush() [][]byte {
	var out [][]byte
	if len(d.buf) > 0 && !d.skipping {
		if p := d.line(bytes.TrimRight(d.buf, "\r")); p != nil {
			out = append(out, p)
		}
	}
	if d.carry != nil {
		log.Debug().Int("bytes", len(d.carry)).Msg("Dropping truncated record at end of stream")
		d.carry = nil
	}
	d.buf = nil
	d.skipping = false
	return out
}

// Pending reports whether a partial record is buffered.
func (d *Decoder) Pending() bool {
	return len(d.buf) > 0 || d.carry != nil
}

func (d *Decoder) line(line []byte) []byte {
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		// blank separators, comments, event:/id: fields
		return nil
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if d.carry != nil && json.Valid(payload) {
		// a complete record supersedes the carry
		log.Debug().Int("bytes", len(d.carry)).Msg("Dropping truncated record superseded by a complete one")
		d.carry = nil
	}
	if d.carry != nil {
		joined := make([]byte, 0, len(d.carry)+1+len(payload))
		joined = append(joined, d.carry...)
		joined = append(joined, '\n')
		payload = append(joined, payload...)
		d.carry = nil
	}
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out
	}
	if Truncated(payload) {
		if len(payload) > MaxRecord {
			log.Debug().Int("bytes", len(payload)).Msg("Dropping oversized truncated record")
			return nil
		}
		d.carry = append([]byte(nil), payload...)
		return nil
	}
	log.Debug().Bytes("payload", payload).Msg("Ignoring malformed stream record")
	return nil
}

// Truncated reports whether data looks like the prefix of a JSON value that
// was cut off, as opposed to one that is simply malformed.
func Truncated(data []byte) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || (data[0] != '{' && data[0] != '[') {
		return false
	}
	depth := 0
	inString, escaped := false, false
	for _, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return inString || depth > 0
}

// Scan reads r to the end, calling fn for every decoded payload. It returns
// nil on a clean end of stream, the read error otherwise, or the first
// error returned by fn.
func Scan(r io.Reader, fn func(payload []byte) error) error {
	var dec Decoder
	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			for _, p := range dec.Feed(chunk[:n]) {
				if ferr := fn(p); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			for _, p := range dec.Flush() {
				if ferr := fn(p); ferr != nil {
					return ferr
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Frame renders one payload in the wire framing, for servers and tests.
func Frame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+len(dataPrefix)+3)
	out = append(out, dataPrefix...)
	out = append(out, ' ')
	out = append(out, data...)
	out = append(out, '\n', '\n')
	return out, nil
}
