package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = `usage: accesspayd [command] [flags]

commands:
  serve    run the node and its HTTP gateway (default)
  export   write committed events from the event log to a parquet file
  token    sign a gateway bearer token for a caller address
`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "export":
		err = runExport(args)
	case "token":
		err = runToken(args)
	case "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "accesspayd %s: %v\n", cmd, err)
		os.Exit(1)
	}
}
