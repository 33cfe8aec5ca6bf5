//go:build !race

package ring

import "testing"

func skipRace(testing.TB) {}
