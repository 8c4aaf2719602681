package sfbulk

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"slices"
)

// ResultSet holds the three result streams of a terminal job. Query jobs
// deliver their rows through Successful; Failed and Unprocessed are empty.
type ResultSet struct {
	JobID       string
	Successful  *RecordIterator
	Failed      *RecordIterator
	Unprocessed *RecordIterator
}

// Page is one CSV page of results. Next is the continuation locator; empty means last page.
type Page struct {
	Body []byte
	Next string
}

// PageFetcher fetches the page identified by locator; "" requests the first page.
type PageFetcher func(ctx context.Context, locator string) (Page, error)

// Record is one CSV row with access by column name.
type Record struct {
	header []string
	values []string
}

// NewRecord builds a record from a header and matching values.
func NewRecord(header, values []string) Record {
	return Record{header: header, values: values}
}

// Get returns the value of the named column.
func (r Record) Get(column string) (string, bool) {
	index := slices.Index(r.header, column)
	if index < 0 || index >= len(r.values) {
		return "", false
	}

	return r.values[index], true
}

// Values returns the raw row values.
func (r Record) Values() []string {
	return r.values
}

// Header returns the column names shared by every record of a stream.
func (r Record) Header() []string {
	return r.header
}

// Map returns the record as column -> value.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.header))
	for i, column := range r.header {
		if i < len(r.values) {
			out[column] = r.values[i]
		}
	}

	return out
}

// RecordIterator walks a paginated CSV result stream. It is forward-only and
// fetches each page on demand; obtain a new iterator to start over.
type RecordIterator struct {
	ctx       context.Context //nolint:containedctx
	fetch     PageFetcher
	delimiter rune

	header  []string
	buffer  [][]string
	pos     int
	locator string
	done    bool
	err     error
	pages   int
}

// NewRecordIterator returns an iterator that has not fetched anything yet.
func NewRecordIterator(ctx context.Context, format ContentFormat, fetch PageFetcher) *RecordIterator {
	return &RecordIterator{
		ctx:       ctx,
		fetch:     fetch,
		delimiter: format.ColumnDelimiter.Rune(),
	}
}

// EmptyRecordIterator returns an iterator with no records.
func EmptyRecordIterator() *RecordIterator {
	return &RecordIterator{done: true}
}

// HasNext reports whether another record is available, fetching the next
// page when the current one is exhausted. It returns false on error; see Err.
func (it *RecordIterator) HasNext() bool {
	for {
		if it.pos < len(it.buffer) {
			return true
		}

		if it.done || it.err != nil {
			return false
		}

		it.fetchPage()
	}
}

// Next returns the next record.
func (it *RecordIterator) Next() (Record, error) {
	if !it.HasNext() {
		if it.err != nil {
			return Record{}, it.err
		}

		return Record{}, ErrNoMoreRecords
	}

	values := it.buffer[it.pos]
	it.pos++

	return Record{header: it.header, values: values}, nil
}

// All drains the remaining records.
func (it *RecordIterator) All() ([]Record, error) {
	var records []Record

	for it.HasNext() {
		record, err := it.Next()
		if err != nil {
			return records, err
		}

		records = append(records, record)
	}

	return records, it.err
}

// Header returns the column names once the first page has been read.
func (it *RecordIterator) Header() []string {
	return it.header
}

// Err returns the error that stopped iteration, if any.
func (it *RecordIterator) Err() error {
	return it.err
}

// Pages returns the number of pages fetched so far.
func (it *RecordIterator) Pages() int {
	return it.pages
}

func (it *RecordIterator) fetchPage() {
	page, err := it.fetch(it.ctx, it.locator)
	if err != nil {
		it.err = err

		return
	}

	it.pages++

	rows, err := parseCSV(page.Body, it.delimiter)
	if err != nil {
		it.err = &Error{Kind: KindSerialization, Op: "parse result page", Err: err}

		return
	}

	it.buffer = it.buffer[:0]
	it.pos = 0

	if len(rows) > 0 {
		if it.header == nil {
			it.header = rows[0]
		} else if !slices.Equal(it.header, rows[0]) {
			it.err = &Error{Kind: KindSerialization, Op: "parse result page", Err: ErrInconsistentCSVHeader}

			return
		}

		it.buffer = append(it.buffer, rows[1:]...)
	}

	if page.Next == "" {
		it.done = true
	} else if page.Next == it.locator {
		it.err = &Error{Kind: KindSerialization, Op: "fetch result page", Err: ErrStalledContinuation}

		return
	}

	it.locator = page.Next
}

// ParseCSVRows parses a CSV body using the given delimiter.
func ParseCSVRows(body []byte, format ContentFormat) ([][]string, error) {
	return parseCSV(body, format.ColumnDelimiter.Rune())
}

func parseCSV(body []byte, delimiter rune) ([][]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	reader := csv.NewReader(bytes.NewReader(body))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	var rows [][]string

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}

		if err != nil {
			return nil, err
		}

		rows = append(rows, row)
	}
}
