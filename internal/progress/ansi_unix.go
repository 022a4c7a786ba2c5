//go:build !windows

package progress

import "os"

// enableANSI is a no-op: Unix terminals understand escape sequences.
func enableANSI(*os.File) {}
