package main

import (
	"github.com/joho/godotenv"

	"github.com/jonandersen/apca/cmd"
)

func main() {
	// A .env file in the working directory may supply APCA_* variables.
	_ = godotenv.Load()
	cmd.Execute()
}
