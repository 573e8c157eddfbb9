package main

import (
	"log"

	"github.com/Kunalchandra007/Pravha/internal/logger"
)

func main() {
	if err := logger.Init("mesh.log"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	Execute()
}
