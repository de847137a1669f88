package main

import "github.com/btctest/node-harness/cmd"

func main() {
	cmd.Execute()
}
