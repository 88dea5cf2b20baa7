package parser

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name            string
		input           string
		expectedRecords int
		expectedStem    string
		expectedOptions []Option
		expectedExpl    string
	}{
		{
			name:            "Simple question",
			input:           "EXAM: Step 1\nQ: What is the first-line therapy?\nO*: Aspirin\nO: Nothing",
			expectedRecords: 1,
			expectedStem:    "What is the first-line therapy?",
			expectedOptions: []Option{{Text: "Aspirin", Correct: true}, {Text: "Nothing"}},
		},
		{
			name: "Multiline stem and explanation",
			input: `
EXAM: Step 1
Q: Which findings are typical?
Consider the ECG.
O: ST elevation
E: ST elevation in two
contiguous leads.
`,
			expectedRecords: 1,
			expectedStem:    "Which findings are typical?\nConsider the ECG.",
			expectedOptions: []Option{{Text: "ST elevation"}},
			expectedExpl:    "ST elevation in two\ncontiguous leads.",
		},
		{
			name: "Two questions",
			input: `
EXAM: Step 1
Q: First question
O: First answer

Q: Second question
O: Second answer
`,
			expectedRecords: 2,
		},
		{
			name: "Separator ends a question",
			input: `EXAM: Step 1
Q: First
---
Not part of anything
---
Q: Second`,
			expectedRecords: 2,
		},
		{
			name:            "No questions, just text",
			input:           "This is a file with no questions.",
			expectedRecords: 0,
		},
		{
			name:            "Prefixes with no space",
			input:           "EXAM:Step 1\nQ:Question\nO*:Answer",
			expectedRecords: 1,
			expectedStem:    "Question",
			expectedOptions: []Option{{Text: "Answer", Correct: true}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}

			if len(records) != tc.expectedRecords {
				t.Fatalf("Expected %d records, but got %d", tc.expectedRecords, len(records))
			}

			if tc.expectedRecords == 1 {
				rec := records[0]
				if rec.Stem != tc.expectedStem {
					t.Errorf("Expected Stem to be '%s', but got '%s'", tc.expectedStem, rec.Stem)
				}
				if !reflect.DeepEqual(rec.Options, tc.expectedOptions) {
					t.Errorf("Expected Options to be %+v, but got %+v", tc.expectedOptions, rec.Options)
				}
				if rec.Explanation != tc.expectedExpl {
					t.Errorf("Expected Explanation to be '%s', but got '%s'", tc.expectedExpl, rec.Explanation)
				}
			}
		})
	}
}

func TestParseHeadersAreSticky(t *testing.T) {
	input := `EXAM: Step 1
CASE: Chest pain
V: A 54-year-old man presents
with crushing chest pain.
Q: Next step?
T: cardio/acs, emergency
Q: Diagnosis?
CASE:
Q: Unrelated question
EXAM: Step 2
Q: Other exam
`
	records, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() returned an unexpected error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("Expected 4 records, but got %d", len(records))
	}

	vignette := "A 54-year-old man presents\nwith crushing chest pain."
	for i, rec := range records[:2] {
		if rec.Exam != "Step 1" || rec.Case != "Chest pain" || rec.Vignette != vignette {
			t.Errorf("Record %d: unexpected headers %q/%q/%q", i, rec.Exam, rec.Case, rec.Vignette)
		}
	}
	wantTags := []TagPath{{Super: "cardio", Child: "acs"}, {Super: "emergency"}}
	if !reflect.DeepEqual(records[0].Tags, wantTags) {
		t.Errorf("Expected tags %+v, got %+v", wantTags, records[0].Tags)
	}
	if records[1].Tags != nil {
		t.Errorf("Expected tags not to carry over, got %+v", records[1].Tags)
	}
	if records[2].Case != "" || records[2].Vignette != "" {
		t.Errorf("Expected empty CASE: to leave the case, got %q", records[2].Case)
	}
	if records[3].Exam != "Step 2" {
		t.Errorf("Expected exam 'Step 2', got %q", records[3].Exam)
	}
	if records[0].Line != 5 {
		t.Errorf("Expected first question on line 5, got %d", records[0].Line)
	}
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"question without exam", "Q: Orphan", "EXAM:"},
		{"tag nested too deep", "EXAM: x\nQ: q\nT: a/b/c", "deeper"},
		{"empty tag segment", "EXAM: x\nQ: q\nT: cardio/", "empty segment"},
		{"vignette without case", "EXAM: x\nV: text", "outside of a case"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"Question", "Exam", "Case", "Vignette", "Tags", "Options", "Correct", "Explanation"},
		{"Next step?", "Step 1", "Chest pain", "A 54-year-old man", "cardio/acs", "ECG | Troponin | Discharge", "A, 2", "Both first."},
		{"", "Step 1"},
		{"Loose question", "Step 1", "", "ignored without case", "", "", "", ""},
	}
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cellName, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	records, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() returned an unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, but got %d", len(records))
	}

	rec := records[0]
	if rec.Exam != "Step 1" || rec.Case != "Chest pain" || rec.Vignette != "A 54-year-old man" {
		t.Errorf("Unexpected headers: %+v", rec)
	}
	wantOptions := []Option{{Text: "ECG", Correct: true}, {Text: "Troponin", Correct: true}, {Text: "Discharge"}}
	if !reflect.DeepEqual(rec.Options, wantOptions) {
		t.Errorf("Expected options %+v, got %+v", wantOptions, rec.Options)
	}
	if !reflect.DeepEqual(rec.Tags, []TagPath{{Super: "cardio", Child: "acs"}}) {
		t.Errorf("Unexpected tags %+v", rec.Tags)
	}
	if rec.Line != 2 {
		t.Errorf("Expected row 2, got %d", rec.Line)
	}
	if records[1].Vignette != "" {
		t.Errorf("Expected no vignette without a case, got %q", records[1].Vignette)
	}
}

func TestMarkCorrect(t *testing.T) {
	options := []Option{{Text: "a"}, {Text: "b"}}
	if err := markCorrect(options, "3"); err == nil {
		t.Error("Expected an out-of-range error")
	}
	if err := markCorrect(options, "yes"); err == nil {
		t.Error("Expected an invalid option error")
	}
	if err := markCorrect(options, "b"); err != nil || !options[1].Correct {
		t.Errorf("Expected option b to be correct, err=%v", err)
	}
}

func TestSupported(t *testing.T) {
	for path, want := range map[string]bool{"a.md": true, "b.XLSX": true, "c.txt": false, "README": false} {
		if got := Supported(path); got != want {
			t.Errorf("Supported(%q) = %v, want %v", path, got, want)
		}
	}
}
