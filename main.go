package main

import "github.com/fakeyudi/stopgate/cmd"

func main() {
	cmd.Execute()
}
