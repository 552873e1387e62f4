package main

import (
	"pgroute/cmd"

	_ "github.com/lib/pq"
)

func main() {
	cmd.Execute()
}
