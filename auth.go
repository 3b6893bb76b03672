package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtExpiry        = 24 * time.Hour
	bcryptCost       = 12
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
	roleController   = "controller"
)

// Auth decides who may change an arena. Without an operator password every
// client is a controller; with one, only holders of a controller token are.
type Auth struct {
	passHash  []byte
	jwtSecret []byte

	// Rate limiting for login attempts (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates a new Auth handler. An empty password disables control checks.
func NewAuth(db *DB, password string) *Auth {
	a := &Auth{
		jwtSecret: loadOrCreateSecret(db),
		rateMap:   make(map[string]*rateEntry),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
		if err != nil {
			panic("failed to hash operator password: " + err.Error())
		}
		a.passHash = hash
	}
	return a
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	// Generate a new secret
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			log.Printf("warning: could not persist JWT secret: %v", err)
		}
	}
	return secret
}

// Open reports whether every client may control arenas
func (a *Auth) Open() bool {
	return a.passHash == nil
}

// Login checks the operator password and returns a controller token
func (a *Auth) Login(password, ip string) (string, error) {
	if a.Open() {
		return a.generateToken()
	}
	if !a.checkRate(ip) {
		return "", fmt.Errorf("too many login attempts, try again later")
	}
	if err := bcrypt.CompareHashAndPassword(a.passHash, []byte(password)); err != nil {
		return "", fmt.Errorf("invalid password")
	}

	token, err := a.generateToken()
	if err != nil {
		return "", fmt.Errorf("internal error")
	}
	return token, nil
}

// ValidateToken checks that tokenStr is an unexpired controller token
func (a *Auth) ValidateToken(tokenStr string) error {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("invalid token")
	}
	if role, _ := claims["role"].(string); role != roleController {
		return fmt.Errorf("invalid token claims")
	}
	return nil
}

// CanControl reports whether a client presenting tokenStr may change arenas
func (a *Auth) CanControl(tokenStr string) bool {
	if a.Open() {
		return true
	}
	if tokenStr == "" {
		return false
	}
	return a.ValidateToken(tokenStr) == nil
}

func (a *Auth) generateToken() (string, error) {
	claims := jwt.MapClaims{
		"role": roleController,
		"exp":  time.Now().Add(jwtExpiry).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
