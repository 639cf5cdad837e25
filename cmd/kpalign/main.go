package main

import "github.com/MeKo-Tech/kpalign/cmd/kpalign/cmd"

func main() {
	cmd.Execute()
}
