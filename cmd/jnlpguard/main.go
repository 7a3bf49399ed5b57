package main

import "github.com/ppiankov/jnlpguard/internal/cli"

func main() {
	cli.Execute()
}
