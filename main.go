// Package main is the entry point for the bookkeeping application
package main

import (
	"github.com/ethpandaops/bookkeeping/cmd"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	cmd.Execute()
}
