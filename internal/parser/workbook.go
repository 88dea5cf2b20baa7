package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Workbook column headers. Matching is case-insensitive; column order is free.
const (
	colExam        = "exam"
	colCase        = "case"
	colVignette    = "vignette"
	colQuestion    = "question"
	colTags        = "tags"
	colOptions     = "options"
	colCorrect     = "correct"
	colExplanation = "explanation"
)

// optionSeparator separates answer choices inside the options cell.
const optionSeparator = "|"

// ParseWorkbook reads every sheet of an .xlsx workbook. The first row of a
// sheet is the header; each following row with a question is one record.
// Sheets without a question column are skipped.
func ParseWorkbook(path string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		recs, err := parseSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

func parseSheet(rows [][]string) ([]Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols[colQuestion]; !ok {
		return nil, nil
	}
	if _, ok := cols[colExam]; !ok {
		return nil, fmt.Errorf("missing %q column", colExam)
	}

	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []Record
	for n, row := range rows[1:] {
		line := n + 2 // 1-based, after the header
		stem := cell(row, colQuestion)
		if stem == "" {
			continue
		}
		rec := Record{
			Exam:        cell(row, colExam),
			Case:        cell(row, colCase),
			Stem:        stem,
			Explanation: cell(row, colExplanation),
			Line:        line,
		}
		if rec.Exam == "" {
			return nil, fmt.Errorf("row %d: question without an exam", line)
		}
		if rec.Case != "" {
			rec.Vignette = cell(row, colVignette)
		}

		tags, err := ParseTags(cell(row, colTags))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		rec.Tags = tags

		if raw := cell(row, colOptions); raw != "" {
			for _, o := range strings.Split(raw, optionSeparator) {
				if o = strings.TrimSpace(o); o != "" {
					rec.Options = append(rec.Options, Option{Text: o})
				}
			}
		}
		if err := markCorrect(rec.Options, cell(row, colCorrect)); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// markCorrect flags the options named in spec, a comma separated list of
// 1-based numbers or letters (A is the first option).
func markCorrect(options []Option, spec string) error {
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		idx, err := strconv.Atoi(raw)
		if err != nil {
			if len(raw) != 1 {
				return fmt.Errorf("invalid correct option %q", raw)
			}
			c := strings.ToUpper(raw)[0]
			if c < 'A' || c > 'Z' {
				return fmt.Errorf("invalid correct option %q", raw)
			}
			idx = int(c-'A') + 1
		}
		if idx < 1 || idx > len(options) {
			return fmt.Errorf("correct option %q out of range (%d options)", raw, len(options))
		}
		options[idx-1].Correct = true
	}
	return nil
}
