package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/palisade-io/palisade/pkg/authz"
)

// palisade-rules validates a dependency ruleset file without starting the
// server, for CI pipelines that gate ruleset changes.
func main() {
	verbose := flag.Bool("v", false, "Print the parsed rules")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: palisade-rules [-v] <rules.yaml>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	graph, err := authz.LoadRulesFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid ruleset: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d rules, no cycles\n", path, graph.Len())
	if *verbose {
		for _, r := range graph.Rules() {
			if len(r.AllOf) > 0 {
				fmt.Printf("  all_of %v -> %v (priority %d)\n", r.AllOf, r.Implies, r.Priority)
			} else {
				fmt.Printf("  %s -> %v (priority %d)\n", r.Trigger, r.Implies, r.Priority)
			}
		}
	}
}
