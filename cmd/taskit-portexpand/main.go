// Command taskit-portexpand expands a host and a port specifier into
// host:port lines, one per port, handy for generating a TASKIT_BACKENDS
// list to feed taskit-frontend.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/pydsigner/taskit/internal/portrange"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <host> <port-spec>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "port-spec is one of: \"54543\", \"54543,54544\", or \"54543-54550\"")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(2)
	}
	host, spec := args[0], args[1]

	ports, err := portrange.Parse(spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskit-portexpand: %v\n", err)
		os.Exit(1)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for _, p := range ports {
		fmt.Fprintf(out, "%s:%d\n", host, p)
	}
}
