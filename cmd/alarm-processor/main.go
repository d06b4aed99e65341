package main

import "github.com/oshokin/alarm-processor/cmd/alarm-processor/cmd"

func main() {
	cmd.Execute()
}
