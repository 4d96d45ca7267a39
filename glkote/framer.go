package glkote

import (
	"bytes"
	"encoding/json"
)

// Framer reassembles complete JSON documents from the line-delimited output
// of a RemGlk subprocess. Lines are buffered until some prefix of them,
// concatenated, parses as a single JSON value; that prefix is then emitted
// as one message and consumed.
//
// The first prefix that parses wins. If the subprocess ever wrote trailing
// non-JSON bytes after a complete document, they would be misattributed to
// the next message; this is inherent to the protocol's self-delimiting
// design and RemGlk does not do it.
//
// The zero value is ready to use. Framer is not safe for concurrent use.
type Framer struct {
	lines [][]byte
}

// Feed appends one line of subprocess output, without its trailing newline.
// The Framer keeps its own copy of the bytes.
func (f *Framer) Feed(line []byte) {
	f.lines = append(f.lines, append([]byte(nil), line...))
}

// Next extracts the next complete JSON document from the buffered lines, or
// returns false if the buffer does not yet hold one. The returned bytes
// preserve the original line breaks. A partial document is never emitted;
// the caller should feed more lines and try again.
func (f *Framer) Next() ([]byte, bool) {
	var test []byte
	for i := 0; i < len(f.lines); i++ {
		test = append(test, f.lines[i]...)
		if !json.Valid(test) {
			continue
		}
		doc := bytes.Join(f.lines[:i+1], []byte("\n"))
		f.lines = f.lines[i+1:]
		return doc, true
	}
	return nil, false
}

// Reset discards all buffered lines.
func (f *Framer) Reset() {
	f.lines = nil
}
