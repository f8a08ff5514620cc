// Command vectorkvtool is a thin manual-test front end for the vectorkv
// storage core, in the same spirit as the teacher's server_example: it
// exists only so the core has a runnable entry point, not as the
// HTTP/CLI front-end the specification places out of scope.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/guycipher/vectorkv"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vectorkvtool -dir <path> <put|get|del|stats> [args]")
	fmt.Fprintln(os.Stderr, "  put <key> <value>")
	fmt.Fprintln(os.Stderr, "  get <key>")
	fmt.Fprintln(os.Stderr, "  del <key>")
	fmt.Fprintln(os.Stderr, "  stats")
}

func main() {
	dir := flag.String("dir", "", "data directory")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if *dir == "" || len(args) == 0 {
		usage()
		os.Exit(2)
	}

	db, err := vectorkv.Open(vectorkv.Config{Directory: *dir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dir, err)
		os.Exit(1)
	}
	defer db.Close()

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "put":
		if len(rest) != 2 {
			usage()
			os.Exit(2)
		}
		if err := db.Put(rest[0], rest[1]); err != nil {
			fmt.Fprintf(os.Stderr, "put: %v\n", err)
			os.Exit(1)
		}
	case "get":
		if len(rest) != 1 {
			usage()
			os.Exit(2)
		}
		v, ok := db.Get(rest[0])
		if !ok {
			fmt.Println("(not found)")
			os.Exit(1)
		}
		fmt.Println(v)
	case "del":
		if len(rest) != 1 {
			usage()
			os.Exit(2)
		}
		if err := db.Delete(rest[0]); err != nil {
			fmt.Fprintf(os.Stderr, "del: %v\n", err)
			os.Exit(1)
		}
	case "stats":
		s := db.Stats()
		fmt.Printf("memtable_bytes=%d memtable_entries=%d sstable_count=%d total_gets=%d total_puts=%d\n",
			s.MemtableBytes, s.MemtableEntries, s.SSTableCount, s.TotalGets, s.TotalPuts)
	default:
		usage()
		os.Exit(2)
	}
}
