package metadata

import (
	"fmt"
	"strconv"
	"strings"
)

// minServerVersion is the oldest backing-store release the gateway supports.
const minServerVersion = "2.3.0"

// checkServerVersion validates a store version banner such as
// "rethinkdb 2.4.1~0bionic (GCC 5.4.0)" against minServerVersion.
func checkServerVersion(banner string) error {
	got, err := parseVersion(banner)
	if err != nil {
		return err
	}
	min, _ := parseVersion(minServerVersion)
	for n := range min {
		if got[n] != min[n] {
			if got[n] < min[n] {
				return fmt.Errorf("store version %q is below the minimum %s", banner, minServerVersion)
			}
			break
		}
	}
	return nil
}

// parseVersion extracts the leading major.minor.patch triple from a version
// banner. Missing components default to zero.
func parseVersion(banner string) ([3]int, error) {
	start := strings.IndexFunc(banner, func(r rune) bool { return r >= '0' && r <= '9' })
	if start < 0 {
		return [3]int{}, fmt.Errorf("unparseable store version %q", banner)
	}
	end := start
	for end < len(banner) && (banner[end] == '.' || (banner[end] >= '0' && banner[end] <= '9')) {
		end++
	}

	var out [3]int
	for n, part := range strings.SplitN(banner[start:end], ".", 4) {
		if n == 3 {
			break
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return [3]int{}, fmt.Errorf("unparseable store version %q", banner)
		}
		out[n] = v
	}
	return out, nil
}
