// Command ragctl is the admin CLI for the course RAG service.
package main

import (
	"os"

	"course-rag-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
