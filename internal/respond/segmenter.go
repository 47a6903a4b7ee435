package respond

import (
	"strings"
	"unicode/utf8"
)

// defaultMaxSentenceLen is the length ceiling in bytes. A buffer that grows
// past it without terminal punctuation is force-split at the last whitespace
// boundary so audio latency stays bounded.
const defaultMaxSentenceLen = 100

// SentenceUnit is one complete span of generated text, dispatched
// independently for speech synthesis.
type SentenceUnit struct {
	// Index is the 1-based position of the unit within the response.
	Index int

	// Text is the unit content, exactly as it appeared in the stream.
	Text string

	// Final marks the last unit of the response.
	Final bool
}

// Segmenter turns an incremental token stream into sentence units. Feed it
// fragments as they arrive; it emits a unit whenever the buffer contains a
// run of terminal punctuation followed by whitespace, or grows past the
// length ceiling.
//
// The concatenation of all emitted unit texts plus the final [Segmenter.Flush]
// remainder reproduces the input byte for byte. Not safe for concurrent use;
// one segmenter serves one response.
type Segmenter struct {
	buf       string
	nextIndex int
	maxLen    int
}

// NewSegmenter creates a Segmenter. A non-positive maxLen selects the
// 100-byte default ceiling.
func NewSegmenter(maxLen int) *Segmenter {
	if maxLen <= 0 {
		maxLen = defaultMaxSentenceLen
	}
	return &Segmenter{nextIndex: 1, maxLen: maxLen}
}

// Feed appends fragment to the buffer and returns the sentence units it
// completed, in order. Most calls return nil.
func (s *Segmenter) Feed(fragment string) []SentenceUnit {
	s.buf += fragment

	var units []SentenceUnit
	for {
		text, ok := s.extract()
		if !ok {
			break
		}
		units = append(units, s.emit(text))
	}
	return units
}

// Flush returns the remaining buffer as the final unit, or nil when nothing
// is buffered. The segmenter is spent afterwards.
func (s *Segmenter) Flush() *SentenceUnit {
	if s.buf == "" {
		return nil
	}
	u := s.emit(s.buf)
	u.Final = true
	s.buf = ""
	return &u
}

// Count returns the number of units emitted so far.
func (s *Segmenter) Count() int {
	return s.nextIndex - 1
}

func (s *Segmenter) emit(text string) SentenceUnit {
	u := SentenceUnit{Index: s.nextIndex, Text: text}
	s.nextIndex++
	return u
}

// extract removes and returns the next completed sentence from the buffer.
// Terminal punctuation and the length ceiling both close a sentence; the
// whitespace after a terminator stays with the remainder so no bytes are
// lost.
func (s *Segmenter) extract() (string, bool) {
	for i := 0; i < len(s.buf); i++ {
		if !isTerminal(s.buf[i]) {
			continue
		}
		j := i + 1
		for j < len(s.buf) && isTerminal(s.buf[j]) {
			j++
		}
		if j < len(s.buf) && isSpace(s.buf[j]) {
			text := s.buf[:j]
			s.buf = s.buf[j:]
			return text, true
		}
		// A terminator at the very end of the buffer may still be
		// mid-sentence ("e.g" with the rest in flight); wait for more input.
		i = j - 1
	}

	if len(s.buf) > s.maxLen {
		return s.forceSplit(), true
	}
	return "", false
}

// forceSplit cuts the buffer at the last whitespace at or before the ceiling,
// or at the ceiling itself when the span contains no whitespace.
func (s *Segmenter) forceSplit() string {
	cut := strings.LastIndexFunc(s.buf[:s.maxLen+1], func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if cut <= 0 {
		cut = s.maxLen
		// Never cut inside a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(s.buf[cut]) {
			cut--
		}
	}
	text := s.buf[:cut]
	s.buf = s.buf[cut:]
	return text
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
