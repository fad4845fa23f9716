package main

import "github.com/reelspeak/reelspeak/cmd"

func main() {
	cmd.Execute()
}
