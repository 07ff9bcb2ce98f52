// Command sessionctl inspects and resets stored sales assistant sessions.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
