package main

import "github.com/DeeparthGupta/dharaniDairyWeb/cmd"

func main() {
	cmd.Execute()
}
