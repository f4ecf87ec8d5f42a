package main

import "github.com/disgoorg/repbot/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
