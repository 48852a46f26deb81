package main

import "github.com/dlfjsld1/kopring-gateway/cmd/authgate/cmd"

func main() {
	cmd.Execute()
}
