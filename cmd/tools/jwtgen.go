package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"rtb-inventory-api/internal/auth"
	"rtb-inventory-api/internal/config"
	"rtb-inventory-api/internal/models"
)

func main() {
	var (
		userID     = flag.String("user", "admin-1", "User ID")
		roleName   = flag.String("role", "admin", "Role: admin, rtb-staff, headteacher, school-staff or school")
		schoolID   = flag.String("school", "", "School ID (required for school roles)")
		expiryMins = flag.Int("expiry", 1440, "Token expiry in minutes (default: 24 hours)")
		secret     = flag.String("secret", "", "JWT secret (overrides JWT_SECRET env var)")
		issuer     = flag.String("issuer", "", "JWT issuer (overrides JWT_ISS env var)")
		audience   = flag.String("audience", "", "JWT audience (overrides JWT_AUD env var)")
	)
	flag.Parse()

	cfg := config.Load()

	if *secret != "" {
		cfg.JWTSecret = *secret
	}
	if *issuer != "" {
		cfg.JWTIssuer = *issuer
	}
	if *audience != "" {
		cfg.JWTAudience = *audience
	}

	role, err := models.ParseRole(*roleName)
	if err != nil {
		log.Fatalf("Invalid role: %v", err)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, time.Duration(*expiryMins)*time.Minute)
	if err := jwtManager.ValidateConfig(); err != nil {
		log.Fatalf("Invalid JWT configuration: %v", err)
	}

	token, err := jwtManager.GenerateToken(*userID, role, *schoolID)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	fmt.Printf("JWT Token generated successfully!\n\n")
	fmt.Printf("User ID: %s\n", *userID)
	fmt.Printf("Role: %s\n", role)
	if *schoolID != "" {
		fmt.Printf("School ID: %s\n", *schoolID)
	}
	fmt.Printf("Expiry: %d minutes\n", *expiryMins)
	fmt.Printf("Issuer: %s\n", cfg.JWTIssuer)
	fmt.Printf("Audience: %s\n", cfg.JWTAudience)
	fmt.Printf("\nToken:\n%s\n\n", token)

	fmt.Printf("Usage example:\n")
	fmt.Printf("curl -H \"Authorization: Bearer %s\" http://localhost:8080/applications\n", token)
}
