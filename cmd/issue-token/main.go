package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"consenthub/middleware"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/term"
)

// issue-token mints a bearer token for local testing against the API.
// The signing secret comes from AUTH_JWT_SECRET or is prompted for.
func main() {
	role := flag.String("role", "", "customer, csr, admin or system")
	email := flag.String("email", "", "email claim")
	name := flag.String("name", "", "display name claim")
	subject := flag.String("sub", "", "subject claim (defaults to a random id)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string, value *string) {
		if *value != "" {
			return
		}
		fmt.Print(label + ": ")
		line, _ := reader.ReadString('\n')
		*value = strings.TrimSpace(line)
	}

	fmt.Println("=== Issue API Token ===")
	prompt("Role", role)
	prompt("Email", email)
	prompt("Name", name)

	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		fmt.Print("AUTH_JWT_SECRET: ")
		secretBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			log.Fatalf("Failed to read secret: %v", err)
		}
		fmt.Println()
		secret = string(secretBytes)
	}
	if secret == "" {
		log.Fatal("A signing secret is required")
	}

	if *email == "" && *subject == "" {
		log.Fatal("Email or subject is required")
	}
	if *subject == "" {
		*subject = uuid.New().String()
	}

	token, err := middleware.IssueToken(secret, middleware.Principal{
		ID:    *subject,
		Email: *email,
		Name:  *name,
		Role:  strings.ToLower(*role),
	}, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Println()
	fmt.Printf("  Subject: %s\n", *subject)
	fmt.Printf("  Role:    %s\n", strings.ToLower(*role))
	fmt.Printf("  Expires: %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Println(token)
}
