package main

import "github.com/amineamaach/edgeTranslator-SpB/internal/cli"

func main() {
	cli.Run()
}
