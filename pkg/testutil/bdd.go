package testutil

import "testing"

// Given, When and Then name nested subtests after the scenario step they run,
// so `go test -run` output reads as "Given.../When.../Then...".
func Given(t *testing.T, precondition string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("Given "+precondition, fn)
}

func When(t *testing.T, action string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("When "+action, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run("Then "+outcome, fn)
}
