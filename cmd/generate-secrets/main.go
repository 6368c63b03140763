package main

import (
	"fmt"
	"log"

	"github.com/tripmarket/booking-core/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for TripMarket")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, err := utils.GenerateSecret(64)
	if err != nil {
		log.Fatalf("Failed to generate JWT secret: %v", err)
	}
	merchantToken, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate sandbox merchant token: %v", err)
	}

	fmt.Println("✅ Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("PAYABLE_MERCHANT_TOKEN=%s   # sandbox only\n", merchantToken)
	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
