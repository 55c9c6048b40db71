// Command specflow orchestrates agent skill executions.
package main

import "github.com/specflow/specflow/internal/cli"

func main() {
	cli.Execute()
}
