// Command upm is the universal project manager CLI: it plans and runs a
// project's task graph with caching, retries and run reports.
package main

import "os"

func main() {
	os.Exit(run())
}
