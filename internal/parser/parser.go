package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	examPrefix          = "EXAM:"
	casePrefix          = "CASE:"
	vignettePrefix      = "V:"
	questionPrefix      = "Q:"
	tagsPrefix          = "T:"
	correctOptionPrefix = "O*:"
	optionPrefix        = "O:"
	explanationPrefix   = "E:"
	separator           = "---"
)

// Record is one question as written in a bank file.
type Record struct {
	Exam        string
	Case        string
	Vignette    string
	Stem        string
	Tags        []TagPath
	Options     []Option
	Explanation string
	// File is set by ParseFile.
	File string
	// Line is the line (or spreadsheet row) the question starts on.
	Line int
}

// TagPath names a tag by its position in the two-level taxonomy.
// Child is empty when the path names a supertag.
type TagPath struct {
	Super string
	Child string
}

// Option is an answer choice.
type Option struct {
	Text    string
	Correct bool
}

type state int

const (
	seeking state = iota
	readingVignette
	readingQuestion
	readingOption
	readingExplanation
)

// ParseFile reads a bank file and extracts all questions. Markdown and
// .xlsx workbooks are supported.
func ParseFile(path string) ([]Record, error) {
	var (
		records []Record
		err     error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		records, err = ParseWorkbook(path)
	} else {
		records, err = parseMarkdownFile(path)
	}
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].File = path
	}
	return records, nil
}

func parseMarkdownFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Supported reports whether ParseFile understands the file.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".xlsx":
		return true
	}
	return false
}

// Parse reads the markdown bank format from r and extracts all questions.
//
// EXAM: and CASE: lines are sticky headers applying to every following
// question; an empty CASE: leaves the case. V: sets the vignette of the
// current case. A question starts at Q: and collects T:, O:, O*: and E:
// lines until the next Q:, header or --- separator. Lines without a prefix
// continue the current block.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		records      []Record
		current      Record
		currentBlock []string
		currentState = seeking
		exam         string
		caseTitle    string
		vignette     string
		lineNo       int
	)

	flushBlock := func() {
		if len(currentBlock) > 0 {
			content := strings.TrimSpace(strings.Join(currentBlock, "\n"))
			switch currentState {
			case readingVignette:
				vignette = content
			case readingQuestion:
				current.Stem = content
			case readingOption:
				current.Options[len(current.Options)-1].Text = content
			case readingExplanation:
				current.Explanation = content
			}
			currentBlock = nil
		}
	}

	finishRecord := func() error {
		flushBlock()
		defer func() {
			current = Record{}
			currentState = seeking
		}()

		if current.Stem == "" {
			return nil
		}
		if exam == "" {
			return fmt.Errorf("line %d: question without a preceding %s header", current.Line, examPrefix)
		}
		current.Exam = exam
		if caseTitle != "" {
			current.Case = caseTitle
			current.Vignette = vignette
		}
		records = append(records, current)
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if strings.TrimSpace(line) == separator {
			if err := finishRecord(); err != nil {
				return nil, err
			}
			continue
		}

		prefix, content, ok := cutPrefix(line)
		if !ok {
			if currentState != seeking {
				currentBlock = append(currentBlock, line)
			}
			continue
		}

		flushBlock()
		switch prefix {
		case examPrefix:
			if err := finishRecord(); err != nil {
				return nil, err
			}
			exam = strings.TrimSpace(content)
			caseTitle, vignette = "", ""
		case casePrefix:
			if err := finishRecord(); err != nil {
				return nil, err
			}
			caseTitle = strings.TrimSpace(content)
			vignette = ""
		case vignettePrefix:
			if caseTitle == "" {
				return nil, fmt.Errorf("line %d: vignette outside of a case", lineNo)
			}
			currentState = readingVignette
			currentBlock = append(currentBlock, content)
		case questionPrefix:
			if current.Stem != "" { // A new question always starts a new record
				if err := finishRecord(); err != nil {
					return nil, err
				}
			}
			current.Line = lineNo
			currentState = readingQuestion
			currentBlock = append(currentBlock, content)
		case tagsPrefix:
			tags, err := ParseTags(content)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.Tags = append(current.Tags, tags...)
			currentState = seeking
		case optionPrefix, correctOptionPrefix:
			current.Options = append(current.Options, Option{Correct: prefix == correctOptionPrefix})
			currentState = readingOption
			currentBlock = append(currentBlock, content)
		case explanationPrefix:
			currentState = readingExplanation
			currentBlock = append(currentBlock, content)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Finish the very last question in the file
	if err := finishRecord(); err != nil {
		return nil, err
	}
	return records, nil
}

// prefixes is ordered so that O*: is tried before O:.
var prefixes = []string{
	examPrefix, casePrefix, vignettePrefix, questionPrefix, tagsPrefix,
	correctOptionPrefix, optionPrefix, explanationPrefix,
}

func cutPrefix(line string) (prefix, content string, ok bool) {
	for _, p := range prefixes {
		if rest, found := strings.CutPrefix(line, p); found {
			return p, strings.TrimPrefix(rest, " "), true
		}
	}
	return "", "", false
}

// ParseTags splits a comma separated tag list. Each entry is either a
// supertag name or a "super/child" path.
func ParseTags(s string) ([]TagPath, error) {
	var tags []TagPath
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, "/")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] == "" {
				return nil, fmt.Errorf("empty segment in tag %q", raw)
			}
		}
		switch len(parts) {
		case 1:
			tags = append(tags, TagPath{Super: parts[0]})
		case 2:
			tags = append(tags, TagPath{Super: parts[0], Child: parts[1]})
		default:
			return nil, fmt.Errorf("tag %q is nested deeper than supertag/tag", raw)
		}
	}
	return tags, nil
}
