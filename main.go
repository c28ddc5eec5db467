package main

import "github.com/fakeyudi/kintoadm/cmd"

func main() {
	cmd.Execute()
}
