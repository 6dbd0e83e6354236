package main

import "github.com/albumforge/albumforge/cmd"

func main() {
	cmd.Execute()
}
