package main // tokengen issues access tokens for local development and testing

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/cohort-seat-sync/internal/token"
)

func main() {
	netID := flag.String("netid", "", "campus net ID to issue the token for")
	role := flag.String("role", "student", "role claim: student, ta, instructor or admin")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *netID == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -netid <id> [-role student|ta|instructor|admin] [-ttl 1h]")
		os.Exit(2)
	}

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET must be set")
		os.Exit(1)
	}

	t, err := token.New(secret, *netID, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token signing failed:", err)
		os.Exit(1)
	}
	fmt.Println(t.Token)
	fmt.Fprintln(os.Stderr, "expires:", t.Exp.Format(time.RFC3339))
}
