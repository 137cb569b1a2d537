package main

import "nemesis/internal/cli"

func main() {
	cli.Execute()
}
