package main

import "github.com/l3wi/takopi-ralph/cmd"

func main() {
	cmd.Execute()
}
