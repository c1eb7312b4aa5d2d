package main

import "refi-rate-alerts/internal/cli"

func main() {
	cli.Execute()
}
