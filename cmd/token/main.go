// Command token mints a development JWT for exercising the chat API and
// websocket locally.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ekklesia-app/messaging/internal/config"
	"github.com/ekklesia-app/messaging/pkg/utils"
)

func main() {
	userID := flag.String("user", "", "user id to embed in the token")
	role := flag.String("role", "member", "role claim")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IsDevelopment() {
		log.Fatal("token minting is only available with APP_ENV=development")
	}

	token, err := utils.GenerateToken(*userID, *role, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
