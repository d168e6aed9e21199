package main

import (
	"fmt"
	"os"
	"time"

	"blob-vault/internal/security"
)

func main() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: go run ./scripts/sign_request <secret> <method> <path> <body>")
		fmt.Println("Example: go run ./scripts/sign_request mysecret POST /admin/report '{\"format\":\"csv\"}'")
		return
	}

	secret := os.Args[1]
	method := os.Args[2]
	path := os.Args[3]
	body := os.Args[4]
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	fmt.Printf("X-Timestamp: %s\n", timestamp)
	fmt.Printf("X-Signature: %s\n", security.Sign(secret, method, path, body, timestamp))
}
