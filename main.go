package main

import (
	"fmt"
	"os"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "KVCache-Engine"
)

func main() {
	fmt.Printf("%s v%s\n", Name, Version)
	fmt.Println("TTL and capacity bounded key-value cache with pluggable storage")
	fmt.Println("Server binary: cmd/kvcache-server")
	os.Exit(0)
}
