package main

import "github.com/caedis/wine-game-updater/cmd"

func main() {
	cmd.Execute()
}
