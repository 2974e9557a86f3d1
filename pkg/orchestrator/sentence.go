package orchestrator

import (
	"regexp"
	"strings"
)

// sentenceTerminator matches a '.', '!' or '?' followed by whitespace —
// the sentence-boundary trigger of §4.4's sentence streaming step 3 and the
// GLOSSARY's "Sentence boundary" definition.
var sentenceTerminator = regexp.MustCompile(`[.!?]\s+`)

// SentenceBuffer accumulates LLM token fragments until complete sentences
// can be split off, retaining the trailing residual (§3, §4.4).
type SentenceBuffer struct {
	buf string
}

// Feed appends a fragment and returns any complete sentences it produced,
// in order. The buffer retains whatever text follows the last terminator.
func (s *SentenceBuffer) Feed(fragment string) []string {
	s.buf += fragment
	var sentences []string
	for {
		loc := sentenceTerminator.FindStringIndex(s.buf)
		if loc == nil {
			break
		}
		sentences = append(sentences, s.buf[:loc[1]])
		s.buf = s.buf[loc[1]:]
	}
	return sentences
}

// Flush returns and clears the trailing residual (§4.4 step 4), trimmed of
// surrounding whitespace.
func (s *SentenceBuffer) Flush() string {
	residual := s.buf
	s.buf = ""
	return strings.TrimSpace(residual)
}
