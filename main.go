package main

import "github.com/javanhut/evees/cli"

func main() {
	cli.Execute()
}
