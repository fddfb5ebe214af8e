package main

import "github.com/cactuscomply/tpt-rates/internal/cli"

func main() {
	cli.Execute()
}
