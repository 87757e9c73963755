package main

import "github.com/carlbeek/gas-repricer/cmd"

func main() {
	cmd.Execute()
}
