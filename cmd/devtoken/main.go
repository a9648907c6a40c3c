package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/albertohelena/rdpwizard/internal/config"
)

// Prints a session token for calling the API locally.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	subject := flag.String("sub", "", "user id to embed (random uuid when empty)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.UsesDevJWTSecret() {
		log.Warn().Msg("JWT_SECRET not set, signing with default insecure secret")
	}

	if *subject == "" {
		*subject = uuid.NewString()
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   *subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
	})

	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	log.Info().Str("sub", *subject).Time("expires_at", now.Add(*ttl)).Msg("Token issued")
	fmt.Println(signed)
}
