package core

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const parserHeader = "Supporter Email,Campaign Type,Campaign ID,Amount,"

func TestRecordParser_HeaderThenRows(t *testing.T) {
	p := NewRecordParser(0, nil)

	recs, err := p.Parse([]string{parserHeader, "a@example.org,FUN,1,10.00,", "b@example.org,FUN,2,20.00,"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	wantNames := []string{"Supporter Email", "Campaign Type", "Campaign ID", "Amount"}
	if got := recs[0].Names(); !reflect.DeepEqual(got, wantNames) {
		t.Errorf("Names = %q, want %q", got, wantNames)
	}
	if got := recs[1].Value("Amount"); got != "20.00" {
		t.Errorf("Amount = %q, want 20.00", got)
	}
	if _, ok := recs[0].Get(""); ok {
		t.Error("record kept the unnamed trailing column")
	}
	if p.Count() != 2 {
		t.Errorf("Count = %d, want 2", p.Count())
	}
	if got := p.Header(); len(got) != 5 {
		t.Errorf("Header has %d names, want 5", len(got))
	}
}

func TestRecordParser_HeaderOnlyOnce(t *testing.T) {
	p := NewRecordParser(0, nil)

	if _, err := p.Parse([]string{parserHeader}); err != nil {
		t.Fatalf("Parse header failed: %v", err)
	}
	// A second header-looking row is data.
	recs, err := p.Parse([]string{parserHeader})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Value("Campaign ID") != "Campaign ID" {
		t.Errorf("records = %v", recs)
	}
}

func TestRecordParser_SchemaError(t *testing.T) {
	p := NewRecordParser(0, nil)

	_, err := p.Parse([]string{"Supporter Email,Amount", "a@example.org,1"})
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	want := []string{"Campaign Type", "Campaign ID"}
	if !reflect.DeepEqual(se.Missing, want) {
		t.Errorf("Missing = %q, want %q", se.Missing, want)
	}
	if !strings.Contains(err.Error(), "Campaign Type, Campaign ID") {
		t.Errorf("error %q does not list the missing fields", err)
	}
}

func TestRecordParser_CustomMandatory(t *testing.T) {
	p := NewRecordParser(0, []string{"id"})
	recs, err := p.Parse([]string{"id,name", "1,x"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestRecordParser_FieldCountMismatch(t *testing.T) {
	p := NewRecordParser(0, nil)

	if _, err := p.Parse([]string{parserHeader, "a@example.org,FUN,1,10.00,"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	recs, err := p.Parse([]string{"b@example.org,FUN,2,20.00,", "c@example.org,FUN"})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Row != 3 || pe.Got != 2 || pe.Want != 5 {
		t.Errorf("ParseError = %+v, want row 3 with 2 of 5 fields", pe)
	}
	if recs != nil {
		t.Error("failed batch returned records")
	}
	if p.Count() != 1 {
		t.Errorf("Count = %d, want 1 (failed batch not counted)", p.Count())
	}
	if got := err.Error(); got != "error parsing row 3: 2 fields instead of 5" {
		t.Errorf("Error() = %q", got)
	}
}

func TestRecordParser_GrammarError(t *testing.T) {
	p := NewRecordParser(0, nil)

	_, err := p.Parse([]string{parserHeader, `a@example.org,FUN,1,"10"x,`})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Row != 1 {
		t.Errorf("Row = %d, want 1", pe.Row)
	}
	if pe.Err == nil {
		t.Error("grammar error lost its cause")
	}
}

func TestRecordParser_QuotedNewlineAcrossBatches(t *testing.T) {
	p := NewRecordParser(0, nil)

	recs, err := p.Parse([]string{parserHeader, `a@example.org,FUN,1,"first`})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("got %d records from an open quoted field", len(recs))
	}

	recs, err = p.Parse([]string{`second",`})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if got := recs[0].Value("Amount"); got != "first\nsecond" {
		t.Errorf("Amount = %q, want a value spanning two lines", got)
	}
}

func TestRecordParser_FlushUnterminatedQuote(t *testing.T) {
	p := NewRecordParser(0, nil)

	if _, err := p.Parse([]string{parserHeader, `a@example.org,FUN,1,"never closed`}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	_, err := p.Flush()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError from Flush, got %v", err)
	}
}

func TestRecordParser_UnclosedQuoteFailsEarly(t *testing.T) {
	p := NewRecordParser(0, nil)
	p.maxRecord = 256

	if _, err := p.Parse([]string{parserHeader, `a@example.org,FUN,1,"unterminated,`}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	row := "b@example.org,FUN,2,1,"
	var err error
	batches := 0
	for err == nil && batches < 100 {
		var recs []Record
		recs, err = p.Parse([]string{row, row, row})
		if len(recs) != 0 {
			t.Fatalf("got %d records inside an open quoted field", len(recs))
		}
		batches++
	}

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError before Flush, got %v", err)
	}
	if !errors.Is(err, ErrRecordTooLarge) {
		t.Errorf("cause = %v, want ErrRecordTooLarge", pe.Err)
	}
	if pe.Row != 1 {
		t.Errorf("Row = %d, want 1", pe.Row)
	}
	if p.Count() != 0 {
		t.Errorf("Count = %d, want 0", p.Count())
	}
}

func TestRecordParser_LongQuotedFieldAcrossManyBatches(t *testing.T) {
	p := NewRecordParser(0, nil)
	if _, err := p.Parse([]string{parserHeader, `a@example.org,FUN,1,"start`}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		recs, err := p.Parse([]string{`more, "" text`})
		if err != nil || len(recs) != 0 {
			t.Fatalf("batch %d: %d records, err %v", i, len(recs), err)
		}
	}
	recs, err := p.Parse([]string{`end",`, "b@example.org,FUN,2,3,"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	amount := recs[0].Value("Amount")
	if !strings.HasPrefix(amount, "start\nmore, \" text\n") || !strings.HasSuffix(amount, "\nend") {
		t.Errorf("Amount = %q", amount)
	}
	if strings.Count(amount, "\n") != 51 {
		t.Errorf("Amount spans %d lines, want 52", strings.Count(amount, "\n")+1)
	}
}

func TestRecordParser_SemicolonAndBOM(t *testing.T) {
	p := NewRecordParser(';', nil)

	recs, err := p.Parse([]string{
		byteOrderMark + "Supporter Email;Campaign Type;Campaign ID",
		`a@example.org;FUN;"1;2"`,
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if got := recs[0].Value("Supporter Email"); got != "a@example.org" {
		t.Errorf("Supporter Email = %q (BOM not stripped?)", got)
	}
	if got := recs[0].Value("Campaign ID"); got != "1;2" {
		t.Errorf("Campaign ID = %q, want 1;2", got)
	}
}

func TestRecordParser_BlankLinesSkipped(t *testing.T) {
	p := NewRecordParser(0, nil)
	recs, err := p.Parse([]string{"", parserHeader, "", "a@example.org,FUN,1,1,", ""})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestRecordBoundary(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "plain", text: "a,b\nc,d\n", want: 8},
		{name: "open quote", text: "a,b\nc,\"d\n", want: 4},
		{name: "closed quote", text: "a,\"b\nc\"\n", want: 8},
		{name: "escaped quote", text: "a,\"b\"\"\n\"\n", want: 9},
		{name: "no newline", text: "a,b", want: 0},
		{name: "quote mid field", text: "a,b\"c\nd\n", want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recordBoundary(tt.text, ','); got != tt.want {
				t.Errorf("recordBoundary(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestNamedColumns(t *testing.T) {
	got := NamedColumns([]string{"a", "", "b", ""})
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("NamedColumns = %q, want %q", got, want)
	}
	if got := NamedColumns(nil); len(got) != 0 {
		t.Errorf("NamedColumns(nil) = %q", got)
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{"a", "", "b", "a"})
	if idx["a"] != 0 || idx["b"] != 2 {
		t.Errorf("index = %v", idx)
	}
	if _, ok := idx[""]; ok {
		t.Error("empty name indexed")
	}
}
