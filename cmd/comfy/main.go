package main

import "comfycli/internal/cli"

func main() {
	cli.Execute()
}
