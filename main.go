package main

import "github.com/lowkeylabs/huddle/cmd"

func main() {
	cmd.Execute()
}
