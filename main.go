package main

import (
	"apex-bridge/internal/cli"
)

func main() {
	cli.Execute()
}
