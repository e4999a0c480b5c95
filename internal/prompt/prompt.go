// Package prompt assembles the model input from a question and the retrieved
// passages under a context-length budget.
//
// Lengths are counted in runes. The budget covers everything except the
// system preamble: the context block, the question, and their fixed labels.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/secai-go/internal/index"
)

// DefaultPreamble frames every question for the model.
const DefaultPreamble = "You are an AWS Security & Compliance expert. " +
	"Explain cybersecurity and compliance frameworks (FISMA, NIST 800-53, CIS, FedRAMP) " +
	"and how to implement them using AWS services such as IAM, Config, GuardDuty, " +
	"SecurityHub, CloudTrail, and CloudWatch. " +
	"Be concise and provide AWS service mapping examples when possible. " +
	"Base your answer on the context below; if it does not cover the question, say so."

// DefaultMaxContextLength is the default budget in runes.
const DefaultMaxContextLength = 6000

const (
	contextLabel  = "Context:\n"
	questionLabel = "\n\nQuestion: "
	passageSep    = "\n\n"
)

// Prompt is the assembled model input.
type Prompt struct {
	// System is the preamble sent as the system message.
	System string
	// Context holds the passages, best first, separated by blank lines.
	Context string
	// Question is the user's question verbatim, never truncated or trimmed.
	Question string
	// Included are the hits whose text reached Context, in Context order.
	Included []index.Hit
	// Truncated is true when the last included passage was cut short or
	// further passages were left out.
	Truncated bool
}

// Body returns the user turn: context block followed by the question.
func (p Prompt) Body() string {
	return contextLabel + p.Context + questionLabel + p.Question + "\n"
}

// String renders the full prompt as a single text.
func (p Prompt) String() string {
	return p.System + "\n\n" + p.Body()
}

// Messages renders the prompt as chat messages: the preamble as the system
// turn and the body as the user turn.
func (p Prompt) Messages() []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(p.System),
		schema.UserMessage(p.Body()),
	}
}

// Builder builds prompts with a fixed preamble and budget.
type Builder struct {
	preamble         string
	maxContextLength int
}

// NewBuilder returns a Builder. An empty preamble selects DefaultPreamble and
// a non-positive maxContextLength selects DefaultMaxContextLength.
func NewBuilder(preamble string, maxContextLength int) *Builder {
	if preamble == "" {
		preamble = DefaultPreamble
	}
	if maxContextLength <= 0 {
		maxContextLength = DefaultMaxContextLength
	}
	return &Builder{preamble: preamble, maxContextLength: maxContextLength}
}

// Build assembles a prompt with the default preamble.
func Build(query string, hits []index.Hit, maxContextLength int) Prompt {
	return NewBuilder("", maxContextLength).Build(query, hits)
}

// Build places passages into the context in descending score order until
// the budget is spent. A passage that does not fit whole is cut to the
// remaining room and assembly stops there. The question is always kept
// intact, even when it alone exceeds the budget.
func (b *Builder) Build(query string, hits []index.Hit) Prompt {
	p := Prompt{System: b.preamble, Question: query}

	fixed := utf8.RuneCountInString(contextLabel) + utf8.RuneCountInString(questionLabel) +
		utf8.RuneCountInString(query) + 1
	room := b.maxContextLength - fixed

	ordered := make([]index.Hit, len(hits))
	copy(ordered, hits)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	var ctx strings.Builder
	for _, h := range ordered {
		sep := ""
		if ctx.Len() > 0 {
			sep = passageSep
		}
		passage := formatPassage(h)
		need := utf8.RuneCountInString(sep) + utf8.RuneCountInString(passage)

		if need <= room {
			ctx.WriteString(sep)
			ctx.WriteString(passage)
			room -= need
			p.Included = append(p.Included, h)
			continue
		}

		// Cut the passage to what is left, if any of its text survives.
		avail := room - utf8.RuneCountInString(sep)
		if avail > utf8.RuneCountInString(passageHeader(h)) {
			ctx.WriteString(sep)
			ctx.WriteString(string([]rune(passage)[:avail]))
			p.Included = append(p.Included, h)
		}
		p.Truncated = true
		break
	}

	p.Context = ctx.String()
	return p
}

// passageHeader labels a passage with its provenance.
func passageHeader(h index.Hit) string {
	return fmt.Sprintf("[%s #%d]\n", h.Chunk.DocumentID, h.Chunk.Index)
}

func formatPassage(h index.Hit) string {
	return passageHeader(h) + h.Chunk.Text
}

// Length returns the budgeted length of p: the body without the preamble.
func Length(p Prompt) int {
	return utf8.RuneCountInString(p.Body())
}
