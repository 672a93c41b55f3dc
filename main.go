package main

import "github.com/aztfboot/aztfboot/cmd"

func main() {
	cmd.Execute()
}
