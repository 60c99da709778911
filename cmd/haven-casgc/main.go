// Command haven-casgc garbage-collects the relay's content-addressed
// store-and-forward spool, removing chunks older than a retention window.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/havenlink/transfercore/internal/relay/cas"
)

func main() {
	path := flag.String("db", "cas.db", "path to the CAS spool database")
	maxAge := flag.Duration("max-age", 24*time.Hour, "remove entries older than this")
	flag.Parse()

	store, err := cas.Open(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open spool: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	removed, err := store.GC(*maxAge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed %d entries older than %s\n", removed, maxAge.String())
}
