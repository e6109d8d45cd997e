// Command tokengen mints the bearer credential the chat gateway presents to
// POST /v1/events.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"schoolbot/internal/auth"
	"schoolbot/internal/config"
)

func main() {
	cfg := config.Load()
	subject := flag.String("subject", "chat-gateway", "credential subject")
	ttl := flag.Duration("ttl", cfg.AccessTTL, "credential lifetime")
	flag.Parse()

	cred, err := auth.Issue(*subject, auth.RoleGateway, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		log.Fatalf("issue credential: %v", err)
	}
	fmt.Println(cred.Token)
	log.Printf("expires %s", cred.ExpiresAt.Format(time.RFC3339))
}
