package main

import (
	"fmt"
	"os"

	"github.com/modelcascade/cascade/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: keygen <api-key>")
		fmt.Println("Prints the SHA-256 hash of the provided API key for config.yaml")
		os.Exit(1)
	}

	keyHash := auth.HashAPIKey(os.Args[1])

	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("auth:\n")
	fmt.Printf("  enabled: true\n")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - key_hash: \"%s\"\n", keyHash)
	fmt.Printf("      description: \"Generated key\"\n")
}
