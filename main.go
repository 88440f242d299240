package main

import "github.com/devicelab-dev/flutterctl/pkg/cli"

func main() {
	cli.Execute()
}
