package main

import "github.com/Dicklesworthstone/dcmsg/internal/cli"

func main() {
	cli.Execute()
}
