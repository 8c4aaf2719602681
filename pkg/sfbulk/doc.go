// Package sfbulk provides types, interfaces, and helpers for working with the
// Salesforce Bulk API 2.0.
//
// # Overview
//
// The sfbulk package defines the job model (Job, JobState, Operation), the
// result streams (ResultSet, RecordIterator) and the JobsClient interface that
// drives a job through its lifecycle. A concrete implementation is provided by
// the sfclient package, which wires credentials, transport, and retry policy.
//
// Getting a client
//
//	cli, err := sfclient.NewWithToken(ctx, "https://example.my.salesforce.com", token)
//	if err != nil { log.Fatal(err) }
//
//	result, err := cli.Jobs().Ingest(ctx, sfbulk.CreateJobRequest{
//	  Object:    "Account",
//	  Operation: sfbulk.OperationInsert,
//	}, strings.NewReader("Name\nAcme\n"))
//
// # Lifecycle
//
// Ingest jobs move Open -> UploadComplete -> InProgress -> JobComplete, Failed
// or Aborted. Open and UploadComplete are reached through Create and Close;
// every later state is only ever observed through Poll. Job values are
// snapshots: each call returns a new one and never edits its argument.
//
// # Results
//
// FetchResults returns lazy iterators that request result pages on demand:
//
//	for it := results.Successful; it.HasNext(); {
//	  record, err := it.Next()
//	  if err != nil { break }
//	  id, _ := record.Get("sf__Id")
//	}
//
// # Errors
//
// Every failure is an *Error with a Kind. Helpers such as IsRateLimited,
// IsNotFound, IsJobStateError, and IsWaitTimeout make it easy to branch on
// the common cases.
package sfbulk
