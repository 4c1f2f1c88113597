package main

import "github.com/viralboost/boostd/cmd"

func main() {
	cmd.Execute()
}
