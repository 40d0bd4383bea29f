package main

import "github.com/fennelnet/fennel/cmd"

func main() {
	cmd.Execute()
}
