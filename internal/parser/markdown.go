package parser

import (
	"fmt"
	"strings"

	"github.com/TheEntropyCollective/docanalyzer/internal/model"
)

// MarkdownParser recognizes ATX and setext headings, paragraphs, fenced
// and indented code blocks, list items, block quotes, and horizontal
// rules, per SPEC_FULL.md §4.3. It is a line-oriented scanner tuned to
// the common constructs a generated corpus actually uses, not a
// CommonMark-certified implementation — inline formatting is always
// preserved verbatim in the Body, never expanded.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(path string, data []byte) (result Result, err error) {
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

	blocks := buildMarkdownBlocks(text)
	return Result{Blocks: blocks, Warnings: warnings}, nil
}

func buildMarkdownBlocks(text string) []model.Block {
	lines := splitLines(text)
	var blocks []model.Block
	ordinal := 0

	emit := func(b model.Block) {
		if strings.TrimSpace(b.Body) == "" {
			return
		}
		b.Ordinal = ordinal
		ordinal++
		blocks = append(blocks, b)
	}

	i := 0
	for i < len(lines) {
		ln := lines[i]
		if isBlank(ln.body) {
			i++
			continue
		}

		if marker, ok := isFence(ln.body); ok {
			j := i + 1
			end := ln
			closed := false
			for j < len(lines) {
				end = lines[j]
				if isClosingFence(lines[j].body, marker) {
					j++
					closed = true
					break
				}
				j++
			}
			_ = closed
			body := text[ln.startByte:end.endByte]
			emit(model.Block{
				Body: strings.TrimRight(body, "\r\n"), Kind: model.BlockCode,
				StartByte: ln.startByte, EndByte: end.endByte,
				StartLine: ln.lineNo, EndLine: end.lineNo,
			})
			i = j
			continue
		}

		if level, title, ok := isATXHeading(ln.body); ok {
			emit(model.Block{
				Body: strings.TrimRight(ln.body, " \t"), Kind: model.BlockHeading,
				Level: level, Title: title,
				StartByte: ln.startByte, EndByte: ln.endByte,
				StartLine: ln.lineNo, EndLine: ln.lineNo,
			})
			i++
			continue
		}

		if i+1 < len(lines) {
			if level, ok := isSetextUnderline(lines[i+1].body); ok {
				emit(model.Block{
					Body: strings.TrimRight(ln.body, " \t"), Kind: model.BlockHeading,
					Level: level, Title: strings.TrimSpace(ln.body),
					StartByte: ln.startByte, EndByte: lines[i+1].endByte,
					StartLine: ln.lineNo, EndLine: lines[i+1].lineNo,
				})
				i += 2
				continue
			}
		}

		if isHorizontalRule(ln.body) {
			emit(model.Block{
				Body: strings.TrimSpace(ln.body), Kind: model.BlockHorizontal,
				StartByte: ln.startByte, EndByte: ln.endByte,
				StartLine: ln.lineNo, EndLine: ln.lineNo,
			})
			i++
			continue
		}

		if isBlockquote(ln.body) {
			j := i
			for j < len(lines) && isBlockquote(lines[j].body) {
				j++
			}
			last := lines[j-1]
			body := text[ln.startByte:last.endByte]
			emit(model.Block{
				Body: strings.TrimRight(body, "\r\n"), Kind: model.BlockBlockquote,
				StartByte: ln.startByte, EndByte: last.endByte,
				StartLine: ln.lineNo, EndLine: last.lineNo,
			})
			i = j
			continue
		}

		if isListItem(ln.body) {
			j := i + 1
			for j < len(lines) {
				if isBlank(lines[j].body) || isBlockStart(lines[j].body) {
					break
				}
				j++
			}
			last := lines[j-1]
			body := text[ln.startByte:last.endByte]
			emit(model.Block{
				Body: strings.TrimRight(body, "\r\n"), Kind: model.BlockListItem,
				StartByte: ln.startByte, EndByte: last.endByte,
				StartLine: ln.lineNo, EndLine: last.lineNo,
			})
			i = j
			continue
		}

		if isIndentedCode(ln.body) {
			j := i
			last := ln
			for j < len(lines) && (isBlank(lines[j].body) || isIndentedCode(lines[j].body)) {
				if !isBlank(lines[j].body) {
					last = lines[j]
				}
				j++
			}
			body := text[ln.startByte:last.endByte]
			emit(model.Block{
				Body: strings.TrimRight(body, "\r\n"), Kind: model.BlockCode,
				StartByte: ln.startByte, EndByte: last.endByte,
				StartLine: ln.lineNo, EndLine: last.lineNo,
			})
			i = j
			continue
		}

		// Paragraph: default run of plain lines.
		j := i + 1
		for j < len(lines) {
			if isBlank(lines[j].body) || isBlockStart(lines[j].body) {
				break
			}
			j++
		}
		last := lines[j-1]
		body := strings.TrimRight(text[ln.startByte:last.endByte], " \t\r\n")
		emit(model.Block{
			Body: body, Kind: model.BlockParagraph,
			StartByte: ln.startByte, EndByte: ln.startByte + len(body),
			StartLine: ln.lineNo, EndLine: last.lineNo,
		})
		i = j
	}

	return blocks
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func isBlockStart(line string) bool {
	if _, ok := isFence(line); ok {
		return true
	}
	if _, _, ok := isATXHeading(line); ok {
		return true
	}
	if isHorizontalRule(line) {
		return true
	}
	if isBlockquote(line) {
		return true
	}
	if isListItem(line) {
		return true
	}
	return false
}

func isFence(line string) (byte, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(trimmed) < 3 {
		return 0, false
	}
	c := trimmed[0]
	if c != '`' && c != '~' {
		return 0, false
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == c {
		n++
	}
	if n < 3 {
		return 0, false
	}
	return c, true
}

func isClosingFence(line string, marker byte) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 3 {
		return false
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != marker {
			return false
		}
	}
	return true
}

func isATXHeading(line string) (level int, title string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0, "", false
	}
	if n < len(trimmed) && trimmed[n] != ' ' && trimmed[n] != '\t' {
		return 0, "", false
	}
	rest := strings.TrimSpace(trimmed[n:])
	rest = strings.TrimRight(rest, "#")
	rest = strings.TrimSpace(rest)
	return n, rest, true
}

func isSetextUnderline(line string) (level int, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0, false
	}
	c := trimmed[0]
	if c != '=' && c != '-' {
		return 0, false
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != c {
			return 0, false
		}
	}
	if c == '=' {
		return 1, true
	}
	return 2, true
}

func isHorizontalRule(line string) bool {
	stripped := strings.ReplaceAll(strings.TrimSpace(line), " ", "")
	if len(stripped) < 3 {
		return false
	}
	c := stripped[0]
	if c != '-' && c != '*' && c != '_' {
		return false
	}
	for i := 0; i < len(stripped); i++ {
		if stripped[i] != c {
			return false
		}
	}
	return true
}

func isBlockquote(line string) bool {
	trimmed := strings.TrimLeft(line, " ")
	return strings.HasPrefix(trimmed, ">")
}

func isListItem(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "+ ") {
		return true
	}
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') && i+1 < len(trimmed) && trimmed[i+1] == ' ' {
		return true
	}
	return false
}

func isIndentedCode(line string) bool {
	if isBlank(line) {
		return false
	}
	if strings.HasPrefix(line, "\t") {
		return true
	}
	return strings.HasPrefix(line, "    ")
}
