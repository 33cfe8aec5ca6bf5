//go:build !race

package daemon

import "testing"

func skipRace(testing.TB) {}
