//go:build debug

package check

// Assert panics if cond is false. Constructor preconditions across the
// gateway go through here; only active in debug builds.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}
