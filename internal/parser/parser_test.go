package parser

import (
	"testing"

	"github.com/TheEntropyCollective/docanalyzer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertOrdinalsStrictlyIncreasing(t *testing.T, blocks []model.Block) {
	t.Helper()
	for i, b := range blocks {
		assert.Equal(t, i, b.Ordinal)
		assert.NotEmpty(t, b.Body)
		assert.LessOrEqual(t, b.StartByte, b.EndByte)
		assert.LessOrEqual(t, b.StartLine, b.EndLine)
	}
}

func TestForExtension_SelectsParserByExtension(t *testing.T) {
	assert.IsType(t, &TextParser{}, ForExtension(".txt"))
	assert.IsType(t, &MarkdownParser{}, ForExtension(".md"))
	assert.Nil(t, ForExtension(".bin"))
}

func TestTextParser_SplitsOnBlankLines(t *testing.T) {
	data := []byte("first paragraph\nstill first\n\nsecond paragraph\n")
	res, err := (&TextParser{}).Parse("a.txt", data)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 2)
	assertOrdinalsStrictlyIncreasing(t, res.Blocks)
	assert.Equal(t, "first paragraph\nstill first", res.Blocks[0].Body)
	assert.Equal(t, "second paragraph", res.Blocks[1].Body)
	assert.Equal(t, model.BlockParagraph, res.Blocks[0].Kind)
}

func TestTextParser_LossyDecodeAddsWarning(t *testing.T) {
	data := []byte{'h', 'i', 0xff, 0xfe, '\n'}
	res, err := (&TextParser{}).Parse("a.txt", data)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
}

func TestTextParser_EmptyFileProducesNoBlocks(t *testing.T) {
	res, err := (&TextParser{}).Parse("empty.txt", []byte(""))
	require.NoError(t, err)
	assert.Empty(t, res.Blocks)
}

func TestMarkdownParser_ATXHeadingAndParagraph(t *testing.T) {
	data := []byte("# Title\n\nSome body text.\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 2)
	assertOrdinalsStrictlyIncreasing(t, res.Blocks)
	assert.Equal(t, model.BlockHeading, res.Blocks[0].Kind)
	assert.Equal(t, 1, res.Blocks[0].Level)
	assert.Equal(t, "Title", res.Blocks[0].Title)
	assert.Equal(t, model.BlockParagraph, res.Blocks[1].Kind)
}

func TestMarkdownParser_SetextHeading(t *testing.T) {
	data := []byte("Main Title\n==========\n\nbody\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Blocks), 1)
	assert.Equal(t, model.BlockHeading, res.Blocks[0].Kind)
	assert.Equal(t, 1, res.Blocks[0].Level)
	assert.Equal(t, "Main Title", res.Blocks[0].Title)
}

func TestMarkdownParser_FencedCodeBlockPreservesContent(t *testing.T) {
	data := []byte("```go\nfunc main() {}\n```\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, model.BlockCode, res.Blocks[0].Kind)
	assert.Contains(t, res.Blocks[0].Body, "func main() {}")
}

func TestMarkdownParser_ListItems(t *testing.T) {
	data := []byte("- one\n- two\n- three\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 3)
	for _, b := range res.Blocks {
		assert.Equal(t, model.BlockListItem, b.Kind)
	}
}

func TestMarkdownParser_Blockquote(t *testing.T) {
	data := []byte("> quoted line one\n> quoted line two\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, model.BlockBlockquote, res.Blocks[0].Kind)
}

func TestMarkdownParser_HorizontalRule(t *testing.T) {
	data := []byte("above\n\n---\n\nbelow\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	var kinds []model.BlockKind
	for _, b := range res.Blocks {
		kinds = append(kinds, b.Kind)
	}
	assert.Contains(t, kinds, model.BlockHorizontal)
}

func TestMarkdownParser_IndentedCodeBlock(t *testing.T) {
	data := []byte("paragraph\n\n    indented code line\n    second line\n\nmore text\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	var found bool
	for _, b := range res.Blocks {
		if b.Kind == model.BlockCode {
			found = true
			assert.Contains(t, b.Body, "indented code line")
		}
	}
	assert.True(t, found)
}

func TestMarkdownParser_InlineFormattingPreservedVerbatim(t *testing.T) {
	data := []byte("This has **bold** and _italic_ and `code`.\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, "This has **bold** and _italic_ and `code`.", res.Blocks[0].Body)
}

func TestMarkdownParser_OrdinalsAcrossMixedBlocksAreStrictlyIncreasing(t *testing.T) {
	data := []byte("# Heading\n\nparagraph one\n\n- item one\n- item two\n\n> a quote\n\n```\ncode\n```\n")
	res, err := (&MarkdownParser{}).Parse("a.md", data)
	require.NoError(t, err)
	assertOrdinalsStrictlyIncreasing(t, res.Blocks)
}
