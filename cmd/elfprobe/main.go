// Command elfprobe reports whether a file is a loadable ELF executable
// for this kernel (32-bit x86, ET_EXEC) — the same header check
// chentry used to gate its entry-point rewrite on, without the rewrite.
package main

import (
	"fmt"
	"os"

	"pintos/internal/elftool"
)

func usage(me string) {
	fmt.Printf("%s <filename>\n\nReport whether <filename> is a loadable ELF executable.\n", me)
	os.Exit(1)
}

func main() {
	if len(os.Args) != 2 {
		usage(os.Args[0])
	}
	fh, err := elftool.Probe(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("entry 0x%x class=%s machine=%s\n", fh.Entry, fh.Class, fh.Machine)
}
