package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/secai-go/internal/index"
	"github.com/54b3r/secai-go/internal/loader"
)

func hit(doc string, idx int, text string, score float32) index.Hit {
	return index.Hit{
		Entry: index.Entry{Chunk: loader.Chunk{DocumentID: doc, Index: idx, Text: text, End: utf8.RuneCountInString(text)}},
		Score: score,
	}
}

func TestBuild_OrdersByScoreAndRecordsProvenance(t *testing.T) {
	t.Parallel()

	hits := []index.Hit{
		hit("cis.txt", 0, "Disable root SSH.", 0.4),
		hit("nist.txt", 0, "AC-2: Manage IAM users.", 0.9),
	}
	p := Build("How do I manage IAM users?", hits, 1000)

	assert.Equal(t, DefaultPreamble, p.System)
	assert.Equal(t, "How do I manage IAM users?", p.Question)
	assert.False(t, p.Truncated)
	require.Len(t, p.Included, 2)
	assert.Equal(t, "nist.txt", p.Included[0].Chunk.DocumentID)
	assert.Equal(t, "[nist.txt #0]\nAC-2: Manage IAM users.\n\n[cis.txt #0]\nDisable root SSH.", p.Context)

	assert.True(t, strings.HasPrefix(p.String(), DefaultPreamble+"\n\nContext:\n"))
	assert.True(t, strings.HasSuffix(p.String(), "\n\nQuestion: How do I manage IAM users?\n"))
}

func TestBuild_NoHits(t *testing.T) {
	t.Parallel()

	p := Build("What is FedRAMP?", nil, 0)
	assert.Empty(t, p.Context)
	assert.Empty(t, p.Included)
	assert.Equal(t, "Context:\n\n\nQuestion: What is FedRAMP?\n", p.Body())
}

func TestBuild_RespectsBudget(t *testing.T) {
	t.Parallel()

	var hits []index.Hit
	for i := 0; i < 10; i++ {
		hits = append(hits, hit("doc", i, strings.Repeat("é", 90), float32(10-i)))
	}
	q := "Which controls cover access review?"

	for _, limit := range []int{60, 100, 150, 333, 700, 5000} {
		p := Build(q, hits, limit)
		assert.LessOrEqual(t, Length(p), limit, "limit=%d", limit)
		assert.Equal(t, q, p.Question)
		for i := 1; i < len(p.Included); i++ {
			assert.GreaterOrEqual(t, p.Included[i-1].Score, p.Included[i].Score)
		}
	}
}

func TestBuild_TruncatesLastPassage(t *testing.T) {
	t.Parallel()

	hits := []index.Hit{
		hit("a", 0, strings.Repeat("a", 40), 0.9),
		hit("b", 0, strings.Repeat("b", 40), 0.8),
		hit("c", 0, strings.Repeat("c", 40), 0.7),
	}
	q := "q?"
	fixed := Length(Prompt{Question: q})
	// Room for the first passage whole and part of the second.
	limit := fixed + len("[a #0]\n") + 40 + len("\n\n") + len("[b #0]\n") + 10

	p := Build(q, hits, limit)
	assert.True(t, p.Truncated)
	require.Len(t, p.Included, 2)
	assert.Equal(t, limit, Length(p))
	assert.True(t, strings.HasSuffix(p.Context, "[b #0]\n"+strings.Repeat("b", 10)))
	assert.NotContains(t, p.Context, "c")
}

func TestBuild_QuestionNeverTruncated(t *testing.T) {
	t.Parallel()

	q := strings.Repeat("long question ", 20)
	p := Build(q, []index.Hit{hit("a", 0, "context", 1)}, 10)
	assert.Equal(t, q, p.Question)
	assert.Empty(t, p.Context)
	assert.Empty(t, p.Included)
	assert.True(t, p.Truncated)
}

func TestBuild_QuestionIsVerbatim(t *testing.T) {
	t.Parallel()

	q := "  Explain NIST 800-53 AC-2\n\tfor IAM roles?  "
	p := Build(q, []index.Hit{hit("a", 0, "context", 1)}, 1000)
	assert.Equal(t, q, p.Question)
	assert.True(t, strings.HasSuffix(p.String(), "Question: "+q+"\n"))
}

func TestBuilder_CustomPreamble(t *testing.T) {
	t.Parallel()

	p := NewBuilder("Answer tersely.", 0).Build("q", nil)
	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "Answer tersely.", msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, p.Body(), msgs[1].Content)
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EstimateTokens(tc.input), "%q", tc.input)
	}

	msgs := []*schema.Message{schema.UserMessage("hello world"), schema.UserMessage("hello world")}
	// Each message: 4 overhead + 1 (role) + 2 (content).
	assert.Equal(t, 14, EstimateMessages(msgs))
}
