package main

import "github.com/opgate/opgate/internal/cli"

func main() {
	cli.Execute()
}
