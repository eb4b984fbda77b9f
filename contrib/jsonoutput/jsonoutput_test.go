package jsonoutput

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/forgekit/taskkernel/process"
)

func TestProcessorParsesNDJSON(t *testing.T) {
	p := New(DefaultFieldMap())

	lines := []string{
		`{"severity":"error","file":"a.ts","line":3,"column":1,"message":"boom"}`,
		`not json, a banner line`,
		`{"severity":"warning","file":"b.ts","line":10,"column":5,"message":"meh"}`,
	}
	for _, l := range lines {
		p.OnEntry(process.Line{Content: l, Stream: process.Stdout})
	}
	p.Close()

	records := p.Records()
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Severity != "error" || records[0].File != "a.ts" || records[0].Line != 3 {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].Severity != "warning" || records[1].File != "b.ts" || records[1].Line != 10 {
		t.Errorf("records[1] = %+v", records[1])
	}

	res, ok := p.Result()
	if !ok {
		t.Fatal("Result returned ok=false")
	}
	doc := res.(string)
	if !gjson.Valid(doc) {
		t.Fatalf("Result is not valid JSON: %s", doc)
	}
	if got := gjson.Get(doc, "records.0.file").String(); got != "a.ts" {
		t.Errorf("records.0.file = %q, want a.ts", got)
	}
	raw := gjson.Get(doc, "rawLines").Array()
	if len(raw) != 1 || !strings.Contains(raw[0].String(), "banner") {
		t.Errorf("rawLines = %v", raw)
	}
}

func TestProcessorIgnoresStderr(t *testing.T) {
	p := New(DefaultFieldMap())
	p.OnEntry(process.Line{Content: `{"severity":"error","message":"from stderr"}`, Stream: process.Stderr})
	if len(p.Records()) != 0 {
		t.Error("stderr JSON should not be parsed as a structured record")
	}
}
