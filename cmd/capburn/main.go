package main

import "github.com/forPelevin/capburn/internal/cli"

func main() {
	cli.Main()
}
