package main

import "github.com/drivevault/drivevault/internal/cli"

func main() {
	cli.Execute()
}
