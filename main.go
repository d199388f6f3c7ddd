package main

import "github.com/kiesman99/gravilens/cmd"

func main() {
	cmd.Execute()
}
