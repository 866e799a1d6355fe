package main

import "github.com/jvs-project/hookctl/internal/cli"

func main() {
	cli.Execute()
}
