// Command corpusindex incrementally indexes a document corpus into a vector store.
package main

import (
	"os"

	"github.com/Aman-CERP/corpusindex/cmd/corpusindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
