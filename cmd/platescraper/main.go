package main

import (
	"platescraper/cmd/platescraper/commands"
	"platescraper/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
