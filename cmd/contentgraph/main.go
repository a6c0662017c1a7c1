// Command contentgraph mirrors a JSON:API content repository into a local
// node graph with back-references.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
