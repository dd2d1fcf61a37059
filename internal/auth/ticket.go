package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TicketClaims carry the (user, room) identity for one websocket handshake.
// Identity is established out-of-band: the REST layer mints a ticket and the
// client presents it when upgrading.
type TicketClaims struct {
	UserID uuid.UUID `json:"user_id"`
	RoomID uuid.UUID `json:"room_id"`
	jwt.RegisteredClaims
}

// TicketConfig holds connect-ticket signing configuration.
type TicketConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// GenerateTicket mints a signed connect ticket for the pair.
func GenerateTicket(cfg *TicketConfig, userID, roomID uuid.UUID) (string, error) {
	now := time.Now()
	claims := TicketClaims{
		UserID: userID,
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateTicket parses and validates a connect ticket.
func ValidateTicket(cfg *TicketConfig, ticket string) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse ticket: %w", err)
	}

	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid ticket claims")
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer")
	}
	if claims.UserID == uuid.Nil || claims.RoomID == uuid.Nil {
		return nil, fmt.Errorf("missing identity claims")
	}

	return claims, nil
}
