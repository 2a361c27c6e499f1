// Package portrange parses the small port-specifier grammar TaskIt's
// port-expander CLI accepts: a single port, a comma-separated list, or
// an inclusive lo-hi range.
package portrange

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse returns, in order, every port named by spec. spec is one of:
//
//	"54543"          a single port
//	"54543,54544"    a comma-separated list
//	"54543-54550"    an inclusive range
func Parse(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("portrange: empty port specifier")
	}

	if lo, hi, ok := strings.Cut(spec, "-"); ok {
		loN, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		hiN, err := parsePort(hi)
		if err != nil {
			return nil, err
		}
		if hiN < loN {
			return nil, fmt.Errorf("portrange: range %d-%d is empty", loN, hiN)
		}
		ports := make([]int, 0, hiN-loN+1)
		for p := loN; p <= hiN; p++ {
			ports = append(ports, p)
		}
		return ports, nil
	}

	parts := strings.Split(spec, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("portrange: invalid port %q: %w", s, err)
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("portrange: port %d out of range", n)
	}
	return n, nil
}
