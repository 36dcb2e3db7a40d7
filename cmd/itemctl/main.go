// Command itemctl inspects and edits items in namespaced DynamoDB tables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(openDynamo).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
