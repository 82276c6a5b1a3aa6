package main

import "github.com/kozaktomas/memento/cmd"

func main() {
	cmd.Execute()
}
