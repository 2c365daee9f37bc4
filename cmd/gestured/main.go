// Command gestured keeps gesture preferences mirrored from a backing store
// and logs every change.
package main

import (
	"os"

	"github.com/zoobzio/capitan"
)

func main() {
	err := newRootCmd().Execute()
	capitan.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
