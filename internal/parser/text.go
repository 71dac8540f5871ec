package parser

import (
	"fmt"
	"strings"

	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// TextParser splits plain text into paragraph Blocks on blank-line
// separators, per SPEC_FULL.md §4.3.
type TextParser struct{}

func (p *TextParser) Parse(path string, data []byte) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = Result{}, parseErr(path, fmt.Errorf("panic: %v", r))
		}
	}()

	text, lossy := decodeLossy(data)
	var warnings []Warning
	if lossy {
		warnings = append(warnings, Warning{Message: "file is not valid UTF-8; decoded lossily"})
	}

	blocks := splitParagraphs(text)
	return Result{Blocks: blocks, Warnings: warnings}, nil
}

// splitParagraphs groups consecutive non-blank lines into one Block
// each, normalizing trailing whitespace off the body while preserving
// the block's original starting byte and line position.
func splitParagraphs(text string) []model.Block {
	lines := splitLines(text)

	var blocks []model.Block
	ordinal := 0
	groupStart := -1
	groupStartLine := 0
	lastLineNo := 1

	closeGroup := func(endByte, endLine int) {
		if groupStart == -1 {
			return
		}
		raw := text[groupStart:endByte]
		trimmed := strings.TrimRight(raw, " \t\r\n")
		start := groupStart
		groupStart = -1
		if trimmed == "" {
			return
		}
		blocks = append(blocks, model.Block{
			Body:      trimmed,
			Kind:      model.BlockParagraph,
			StartByte: start,
			EndByte:   start + len(trimmed),
			StartLine: groupStartLine,
			EndLine:   endLine,
			Ordinal:   ordinal,
		})
		ordinal++
	}

	for _, ln := range lines {
		lastLineNo = ln.lineNo
		if strings.TrimSpace(ln.body) == "" {
			closeGroup(ln.startByte, ln.lineNo-1)
			continue
		}
		if groupStart == -1 {
			groupStart = ln.startByte
			groupStartLine = ln.lineNo
		}
	}
	closeGroup(len(text), lastLineNo)

	return blocks
}
