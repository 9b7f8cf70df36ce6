package main

import "github.com/tanq16/hlsmirror/cmd"

func main() {
	cmd.Execute()
}
