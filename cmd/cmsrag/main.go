package main

import "cmsrag/internal/cli"

func main() {
	cli.Execute()
}
