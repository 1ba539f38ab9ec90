// Command bulkload drives the partition-sharded bulk ingest engine
// from the command line: load streams rows from a CSV file, stream
// consumes them continuously from a Kafka topic.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Errorf("bulkload: %v", err)
		os.Exit(1)
	}
}
