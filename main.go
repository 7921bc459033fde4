package main

import "github.com/jsayol/qr-signin/cmd"

func main() {
	cmd.Execute()
}
