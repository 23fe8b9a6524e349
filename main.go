package main

import "github.com/leadlens/leadlens/cmd"

func main() {
	cmd.Execute()
}
