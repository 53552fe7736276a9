package main

import (
	"fmt"
	"log"
	"os"

	"absensi/internal/auth"
	"absensi/internal/config"
)

// mktoken prints a signed JWT for local testing:
//
//	mktoken <subject> <student|teacher>
func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: mktoken <subject> <student|teacher>")
		os.Exit(2)
	}
	subject, role := os.Args[1], os.Args[2]
	if role != auth.RoleStudent && role != auth.RoleTeacher {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", role)
		os.Exit(2)
	}

	cfg := config.Load()
	token, exp, err := auth.Issue(subject, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format("2006-01-02 15:04:05"))
}
