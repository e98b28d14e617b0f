package main

import "github.com/everloop-ai/everloop/cmd"

func main() {
	cmd.Execute()
}
