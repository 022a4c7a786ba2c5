// dupview browses a duplicate-file catalog: groups of byte-identical files,
// their members, and server-rendered thumbnails.
//
// Without arguments on a terminal it opens the interactive browser; see
// 'dupview --help' for the batch commands.
package main

import (
	"os"

	"github.com/dedupfs/dupview/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
