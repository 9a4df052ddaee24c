package main

import "github.com/nghyane/copilot-gateway/internal/cli"

func main() {
	cli.Execute()
}
