// Package sfclient is the entry point for constructing a Bulk API 2.0 client
// that implements the sfbulk.Client interface.
//
// It layers credentials, HTTP transport, and the retry policy on top of the
// job model defined in the sfbulk package. Most applications import sfclient
// to build a client and then use Jobs() for everything else.
//
// Quick start
//
//	import (
//	  "context"
//	  "log"
//	  "os"
//
//	  "github.com/fivetwenty-io/sfbulk/pkg/sfclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//
//	  // With a session token you already have:
//	  cli, err := sfclient.NewWithToken(ctx, "https://example.my.salesforce.com", os.Getenv("SF_TOKEN"))
//	  if err != nil { log.Fatal(err) }
//
//	  // Or with the JWT bearer flow of a connected app:
//	  key, _ := os.ReadFile("server.key")
//	  cli, err = sfclient.NewWithJWT(ctx, "https://login.salesforce.com", "3MVG9...", "integration@example.com", key)
//	  if err != nil { log.Fatal(err) }
//
//	  jobs, err := cli.Jobs().List(ctx, "ingest")
//	  _ = jobs
//	}
//
// Token based constructors refresh the session automatically before it
// expires. NewWithToken uses the token as-is.
package sfclient
