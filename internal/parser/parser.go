// Package parser implements the File Parser of SPEC_FULL.md §4.3: it
// turns the bytes of a text or Markdown file into an ordered sequence of
// Blocks covering the file without gaps. Two concrete parsers are
// provided, selected by the caller (the Worker) on file extension.
package parser

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TheEntropyCollective/docanalyzer/internal/coreerrors"
	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// Warning is a non-fatal condition encountered while parsing one file,
// such as a lossy UTF-8 decode.
type Warning struct {
	Message string
}

// Result is the product of one Parse call.
type Result struct {
	Blocks   []model.Block
	Warnings []Warning
}

// Parser turns file contents into Blocks. A catastrophic failure
// returns a ParseError that is scoped to this one file; it never
// panics.
type Parser interface {
	Parse(path string, data []byte) (Result, error)
}

// ForExtension returns the Parser registered for a lowercase file
// extension (including the leading dot), or nil if none is registered.
func ForExtension(ext string) Parser {
	switch strings.ToLower(ext) {
	case ".md", ".markdown":
		return &MarkdownParser{}
	case ".txt":
		return &TextParser{}
	default:
		return nil
	}
}

// decodeLossy returns the text form of data. If data is not valid
// UTF-8, invalid sequences are replaced with U+FFFD and lossy is true.
func decodeLossy(data []byte) (text string, lossy bool) {
	if utf8.Valid(data) {
		return string(data), false
	}
	return strings.ToValidUTF8(string(data), "�"), true
}

type lineInfo struct {
	body      string
	startByte int
	endByte   int // exclusive, not including the line terminator
	lineNo    int // 1-based
}

// splitLines breaks text into lines, keeping byte offsets (exclusive of
// the trailing '\n') and 1-based line numbers. A trailing empty line is
// included when text ends with '\n', so block splitters can treat it as
// a final blank separator.
func splitLines(text string) []lineInfo {
	var lines []lineInfo
	pos := 0
	lineNo := 1
	for pos <= len(text) {
		idx := strings.IndexByte(text[pos:], '\n')
		if idx == -1 {
			lines = append(lines, lineInfo{body: text[pos:], startByte: pos, endByte: len(text), lineNo: lineNo})
			break
		}
		end := pos + idx
		lines = append(lines, lineInfo{body: text[pos:end], startByte: pos, endByte: end, lineNo: lineNo})
		pos = end + 1
		lineNo++
	}
	return lines
}

func parseErr(path string, cause error) error {
	return coreerrors.New(coreerrors.ParseError, "parse", "", cause, time.Now()).WithFile(path, 1)
}
