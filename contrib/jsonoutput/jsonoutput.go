// Package jsonoutput implements process.OutputProcessor for subprocesses
// that emit newline-delimited JSON instead of plain text — linters and
// bundlers with a --json flag. Fields are read with gjson and the
// aggregate result is assembled with sjson, since both avoid marshaling a
// fixed Go struct for data whose shape varies per tool.
package jsonoutput

import (
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/forgekit/taskkernel/process"
)

// FieldMap names the gjson paths to pull out of each NDJSON record. Fields
// left empty are skipped.
type FieldMap struct {
	Severity string
	File     string
	Line     string
	Column   string
	Message  string
}

// DefaultFieldMap matches the shape common to eslint --format json,
// tsc --pretty false and similar tools: top-level severity/file/line/
// column/message keys.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		Severity: "severity",
		File:     "file",
		Line:     "line",
		Column:   "column",
		Message:  "message",
	}
}

// Record is one parsed NDJSON line, normalized to the FieldMap's shape.
type Record struct {
	Severity string
	File     string
	Line     int64
	Column   int64
	Message  string
	Raw      string
}

// Processor is a process.OutputProcessor that parses every stdout line as
// a JSON object. Non-JSON or unparsable lines, and stderr lines, are kept
// verbatim in the Result document's "rawLines" array rather than dropped,
// so a tool's occasional plain-text banner
// line does not lose information.
type Processor struct {
	fields FieldMap

	mu       sync.Mutex
	records  []Record
	rawLines []string
}

// New creates a Processor using fields to extract structured data from
// each line.
func New(fields FieldMap) *Processor {
	return &Processor{fields: fields}
}

// OnEntry implements process.OutputProcessor.
func (p *Processor) OnEntry(l process.Line) {
	if l.Stream != process.Stdout || !gjson.Valid(l.Content) {
		p.mu.Lock()
		p.rawLines = append(p.rawLines, l.Content)
		p.mu.Unlock()
		return
	}

	parsed := gjson.Parse(l.Content)
	rec := Record{Raw: l.Content}
	if p.fields.Severity != "" {
		rec.Severity = parsed.Get(p.fields.Severity).String()
	}
	if p.fields.File != "" {
		rec.File = parsed.Get(p.fields.File).String()
	}
	if p.fields.Line != "" {
		rec.Line = parsed.Get(p.fields.Line).Int()
	}
	if p.fields.Column != "" {
		rec.Column = parsed.Get(p.fields.Column).Int()
	}
	if p.fields.Message != "" {
		rec.Message = parsed.Get(p.fields.Message).String()
	}

	p.mu.Lock()
	p.records = append(p.records, rec)
	p.mu.Unlock()
}

// Close implements process.OutputProcessor; it is a no-op.
func (p *Processor) Close() {}

// Result implements process.OutputProcessor. It returns a single JSON
// document — {"records": [...], "rawLines": [...]} — built with sjson, so
// callers downstream of a ProcessTask[string] get one parseable string
// rather than a Go struct they'd need the package's types to consume.
func (p *Processor) Result() (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc := "{}"
	var err error
	doc, err = sjson.Set(doc, "rawLines", p.rawLines)
	if err != nil {
		return "{}", true
	}
	for i, rec := range p.records {
		base := "records." + strconv.Itoa(i)
		doc, _ = sjson.Set(doc, base+".severity", rec.Severity)
		doc, _ = sjson.Set(doc, base+".file", rec.File)
		doc, _ = sjson.Set(doc, base+".line", rec.Line)
		doc, _ = sjson.Set(doc, base+".column", rec.Column)
		doc, _ = sjson.Set(doc, base+".message", rec.Message)
	}
	return doc, true
}

// Records returns every structured record parsed so far.
func (p *Processor) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, len(p.records))
	copy(out, p.records)
	return out
}
