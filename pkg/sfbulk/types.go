package sfbulk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// JobKind distinguishes ingest (write) jobs from query (read) jobs.
type JobKind string

const (
	JobKindIngest JobKind = "ingest"
	JobKindQuery  JobKind = "query"
)

// ParseJobKind converts a wire or CLI value into a JobKind.
func ParseJobKind(value string) (JobKind, error) {
	switch kind := JobKind(value); kind {
	case JobKindIngest, JobKindQuery:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: job kind %q", ErrUnknownEnumValue, value)
	}
}

// UnmarshalJSON rejects unknown job kinds.
func (k *JobKind) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, k, ParseJobKind)
}

// Operation is the bulk operation a job performs.
type Operation string

const (
	OperationInsert     Operation = "insert"
	OperationUpdate     Operation = "update"
	OperationUpsert     Operation = "upsert"
	OperationDelete     Operation = "delete"
	OperationHardDelete Operation = "hardDelete"
	OperationQuery      Operation = "query"
	OperationQueryAll   Operation = "queryAll"
)

// ParseOperation converts a wire or CLI value into an Operation.
func ParseOperation(value string) (Operation, error) {
	switch op := Operation(value); op {
	case OperationInsert, OperationUpdate, OperationUpsert, OperationDelete,
		OperationHardDelete, OperationQuery, OperationQueryAll:
		return op, nil
	default:
		return "", fmt.Errorf("%w: operation %q", ErrUnknownEnumValue, value)
	}
}

// UnmarshalJSON rejects unknown operations.
func (o *Operation) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, o, ParseOperation)
}

// Kind reports which job kind runs this operation.
func (o Operation) Kind() JobKind {
	if o == OperationQuery || o == OperationQueryAll {
		return JobKindQuery
	}

	return JobKindIngest
}

// JobState is the server-reported state of a job.
type JobState string

const (
	JobStateOpen           JobState = "Open"
	JobStateUploadComplete JobState = "UploadComplete"
	JobStateInProgress     JobState = "InProgress"
	JobStateJobComplete    JobState = "JobComplete"
	JobStateFailed         JobState = "Failed"
	JobStateAborted        JobState = "Aborted"
)

// ParseJobState converts a wire value into a JobState.
func ParseJobState(value string) (JobState, error) {
	switch state := JobState(value); state {
	case JobStateOpen, JobStateUploadComplete, JobStateInProgress,
		JobStateJobComplete, JobStateFailed, JobStateAborted:
		return state, nil
	default:
		return "", fmt.Errorf("%w: job state %q", ErrUnknownEnumValue, value)
	}
}

// UnmarshalJSON rejects unknown states so protocol drift surfaces as a decode failure.
func (s *JobState) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, s, ParseJobState)
}

// IsTerminal reports whether no further transition can occur.
func (s JobState) IsTerminal() bool {
	return s == JobStateJobComplete || s == JobStateFailed || s == JobStateAborted
}

// IsSuccess reports whether the job finished successfully.
func (s JobState) IsSuccess() bool {
	return s == JobStateJobComplete
}

// Rank orders states along the lifecycle. All terminal states share the highest rank.
func (s JobState) Rank() int {
	switch s {
	case JobStateOpen:
		return 0
	case JobStateUploadComplete:
		return 1
	case JobStateInProgress:
		return 2 //nolint:mnd
	case JobStateJobComplete, JobStateFailed, JobStateAborted:
		return 3 //nolint:mnd
	default:
		return -1
	}
}

// ContentType is the payload format. Bulk API 2.0 only supports CSV.
type ContentType string

const ContentTypeCSV ContentType = "CSV"

// UnmarshalJSON rejects content types other than CSV.
func (c *ContentType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, c, func(value string) (ContentType, error) {
		if ContentType(value) != ContentTypeCSV {
			return "", fmt.Errorf("%w: content type %q", ErrUnknownEnumValue, value)
		}

		return ContentTypeCSV, nil
	})
}

// ColumnDelimiter is the CSV field separator.
type ColumnDelimiter string

const (
	DelimiterComma     ColumnDelimiter = "COMMA"
	DelimiterTab       ColumnDelimiter = "TAB"
	DelimiterSemicolon ColumnDelimiter = "SEMICOLON"
	DelimiterPipe      ColumnDelimiter = "PIPE"
	DelimiterBackquote ColumnDelimiter = "BACKQUOTE"
	DelimiterCaret     ColumnDelimiter = "CARET"
)

// ParseColumnDelimiter converts a wire or CLI value into a ColumnDelimiter.
func ParseColumnDelimiter(value string) (ColumnDelimiter, error) {
	delimiter := ColumnDelimiter(value)
	if _, ok := delimiterRunes[delimiter]; !ok {
		return "", fmt.Errorf("%w: column delimiter %q", ErrUnknownEnumValue, value)
	}

	return delimiter, nil
}

var delimiterRunes = map[ColumnDelimiter]rune{
	DelimiterComma:     ',',
	DelimiterTab:       '\t',
	DelimiterSemicolon: ';',
	DelimiterPipe:      '|',
	DelimiterBackquote: '`',
	DelimiterCaret:     '^',
}

// Rune returns the separator character. An empty delimiter means comma.
func (d ColumnDelimiter) Rune() rune {
	if r, ok := delimiterRunes[d]; ok {
		return r
	}

	return ','
}

// UnmarshalJSON rejects unknown delimiters.
func (d *ColumnDelimiter) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, d, ParseColumnDelimiter)
}

// LineEnding is the CSV record terminator.
type LineEnding string

const (
	LineEndingLF   LineEnding = "LF"
	LineEndingCRLF LineEnding = "CRLF"
)

// ParseLineEnding converts a wire or CLI value into a LineEnding.
func ParseLineEnding(value string) (LineEnding, error) {
	switch ending := LineEnding(value); ending {
	case LineEndingLF, LineEndingCRLF:
		return ending, nil
	default:
		return "", fmt.Errorf("%w: line ending %q", ErrUnknownEnumValue, value)
	}
}

// UnmarshalJSON rejects unknown line endings.
func (l *LineEnding) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, l, ParseLineEnding)
}

func unmarshalEnum[T ~string](data []byte, target *T, parse func(string) (T, error)) error {
	var raw string

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	value, err := parse(raw)
	if err != nil {
		return err
	}

	*target = value

	return nil
}

// ContentFormat is the negotiated CSV dialect of a job.
type ContentFormat struct {
	ColumnDelimiter ColumnDelimiter `json:"columnDelimiter,omitempty" yaml:"column_delimiter,omitempty"`
	LineEnding      LineEnding      `json:"lineEnding,omitempty"      yaml:"line_ending,omitempty"`
}

// DefaultContentFormat is comma-separated with LF line endings.
func DefaultContentFormat() ContentFormat {
	return ContentFormat{ColumnDelimiter: DelimiterComma, LineEnding: LineEndingLF}
}

// APIVersion accepts both 62.0 and "62.0" on the wire.
type APIVersion string

// UnmarshalJSON normalises numeric versions to their one-decimal string form.
func (v *APIVersion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""

		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var raw string

		err := json.Unmarshal(data, &raw)
		if err != nil {
			return err
		}

		*v = APIVersion(raw)

		return nil
	}

	number, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("%w: api version %s", ErrUnknownEnumValue, data)
	}

	*v = APIVersion(strconv.FormatFloat(number, 'f', 1, 64))

	return nil
}

// Job is an immutable snapshot of a server-side bulk job as last observed.
// Operations return a new Job rather than modifying the one passed in.
type Job struct {
	ID                     string          `json:"id"                               yaml:"id"`
	Kind                   JobKind         `json:"kind,omitempty"                   yaml:"kind"`
	Operation              Operation       `json:"operation"                        yaml:"operation"`
	State                  JobState        `json:"state"                            yaml:"state"`
	Object                 string          `json:"object,omitempty"                 yaml:"object,omitempty"`
	Query                  string          `json:"query,omitempty"                  yaml:"query,omitempty"`
	ExternalIDFieldName    string          `json:"externalIdFieldName,omitempty"    yaml:"external_id_field_name,omitempty"`
	ContentType            ContentType     `json:"contentType,omitempty"            yaml:"content_type,omitempty"`
	ColumnDelimiter        ColumnDelimiter `json:"columnDelimiter,omitempty"        yaml:"column_delimiter,omitempty"`
	LineEnding             LineEnding      `json:"lineEnding,omitempty"             yaml:"line_ending,omitempty"`
	APIVersion             APIVersion      `json:"apiVersion,omitempty"             yaml:"api_version,omitempty"`
	ConcurrencyMode        string          `json:"concurrencyMode,omitempty"        yaml:"concurrency_mode,omitempty"`
	CreatedDate            string          `json:"createdDate,omitempty"            yaml:"created_date,omitempty"`
	SystemModstamp         string          `json:"systemModstamp,omitempty"         yaml:"system_modstamp,omitempty"`
	NumberRecordsProcessed int64           `json:"numberRecordsProcessed"           yaml:"number_records_processed"`
	NumberRecordsFailed    int64           `json:"numberRecordsFailed"              yaml:"number_records_failed"`
	Retries                int             `json:"retries,omitempty"                yaml:"retries,omitempty"`
	TotalProcessingTime    int64           `json:"totalProcessingTime,omitempty"    yaml:"total_processing_time,omitempty"`
	ErrorMessage           string          `json:"errorMessage,omitempty"           yaml:"error_message,omitempty"`
	ETag                   string          `json:"-"                                yaml:"-"`
}

// Format returns the job's content format.
func (j Job) Format() ContentFormat {
	return ContentFormat{ColumnDelimiter: j.ColumnDelimiter, LineEnding: j.LineEnding}
}

// RecordCounts are the per-job record totals known once the job is terminal.
type RecordCounts struct {
	Processed  int64 `json:"processed"  yaml:"processed"`
	Failed     int64 `json:"failed"     yaml:"failed"`
	Successful int64 `json:"successful" yaml:"successful"`
}

// Counts returns the record totals. ok is false until the job is terminal.
func (j Job) Counts() (RecordCounts, bool) {
	if !j.State.IsTerminal() {
		return RecordCounts{}, false
	}

	successful := j.NumberRecordsProcessed - j.NumberRecordsFailed
	if successful < 0 {
		successful = 0
	}

	return RecordCounts{
		Processed:  j.NumberRecordsProcessed,
		Failed:     j.NumberRecordsFailed,
		Successful: successful,
	}, true
}

// SuccessRate is the fraction of processed records that did not fail, or 1
// when no records were processed. The server counts failed records as processed.
func (j Job) SuccessRate() float64 {
	if j.NumberRecordsProcessed <= 0 {
		return 1.0
	}

	successful := j.NumberRecordsProcessed - j.NumberRecordsFailed
	if successful < 0 {
		successful = 0
	}

	return float64(successful) / float64(j.NumberRecordsProcessed)
}

// CreateJobRequest describes a job to create. Ingest jobs set Object, query
// jobs set Query; the operation decides which kind is created.
type CreateJobRequest struct {
	Operation           Operation
	Object              string
	ExternalIDFieldName string
	Query               string
	Format              ContentFormat
}

// JobList is one page of the job listing endpoint.
type JobList struct {
	Records        []Job  `json:"records"`
	Done           bool   `json:"done"`
	NextRecordsURL string `json:"nextRecordsUrl,omitempty"`
}

// ParallelResultsBatch is one page of the parallel query results endpoint.
type ParallelResultsBatch struct {
	ResultURLs     []string `json:"resultUrl"`
	NextRecordsURL string   `json:"nextRecordsUrl,omitempty"`
}

// FetchOptions tunes result retrieval.
type FetchOptions struct {
	// MaxRecordsPerPage is sent as maxRecords; zero lets the server decide.
	MaxRecordsPerPage int
	// Concurrency bounds parallel downloads; zero uses the configured default.
	Concurrency int
}

// QueryOptions tunes the high-level Query workflow.
type QueryOptions struct {
	// IncludeDeleted runs queryAll instead of query.
	IncludeDeleted bool
	Format         ContentFormat
	Fetch          FetchOptions
}

// IngestResult is the outcome of a complete ingest workflow.
type IngestResult struct {
	Job     Job
	Results *ResultSet
}

// QueryResult is the outcome of a complete query workflow.
type QueryResult struct {
	Job     Job
	Records *RecordIterator
}

// APIUsage is the org-wide API request usage reported by the server.
type APIUsage struct {
	Used  int `json:"used"  yaml:"used"`
	Limit int `json:"limit" yaml:"limit"`
}

// JobEvent describes one observed job state transition.
type JobEvent struct {
	EventID    string       `json:"eventId"`
	JobID      string       `json:"jobId"`
	Kind       JobKind      `json:"kind"`
	Operation  Operation    `json:"operation"`
	Object     string       `json:"object,omitempty"`
	Previous   JobState     `json:"previousState,omitempty"`
	Current    JobState     `json:"state"`
	Counts     RecordCounts `json:"counts"`
	ObservedAt time.Time    `json:"observedAt"`
}
