package main

import "github.com/reagentd/reagent/cmd"

func main() {
	cmd.Execute()
}
