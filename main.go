package main

import "EmotionDet/cmd"

func main() {
	cmd.Execute()
}
