// Package automaxprocs sets GOMAXPROCS to match the container's CPU quota
// when running under cgroups, purely for its side effect on import.
package automaxprocs

import (
	"go.uber.org/automaxprocs/maxprocs"
)

func init() {
	maxprocs.Set()
}
