// Package mfa implements the TOTP and backup-code primitives behind the
// second authentication factor, on the pquerna/otp + boombuler/barcode QR
// stack. This package has no SMS delivery.
package mfa

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image/png"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Service generates and validates TOTP secrets and backup codes.
type Service struct {
	issuer string
}

func New(issuer string) *Service {
	return &Service{issuer: issuer}
}

// GenerateTOTPSecret creates a new TOTP key and a PNG QR code for enrollment.
func (s *Service) GenerateTOTPSecret(accountName string) (key *otp.Key, qrPNG []byte, err error) {
	key, err = totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("mfa: generating totp key: %w", err)
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return nil, nil, fmt.Errorf("mfa: rendering qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, nil, fmt.Errorf("mfa: encoding qr png: %w", err)
	}
	return key, buf.Bytes(), nil
}

// ValidateTOTP checks a submitted code against secret, allowing the small
// clock-skew window pquerna/otp applies by default.
func (s *Service) ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}

// GenerateCode is a test/dev helper to produce a currently-valid code for a
// given secret, without a real authenticator app.
func (s *Service) GenerateCode(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}

const backupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // excludes I/O/0/1

// GenerateBackupCodes returns count single-use recovery codes formatted
// XXXX-XXXX. Callers hash each with HashBackupCode before persisting; the
// raw codes are shown to the user exactly once.
func (s *Service) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := 0; i < count; i++ {
		code := make([]byte, 8)
		for j := range code {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeCharset))))
			if err != nil {
				return nil, fmt.Errorf("mfa: generating backup code: %w", err)
			}
			code[j] = backupCodeCharset[n.Int64()]
		}
		codes[i] = string(code[:4]) + "-" + string(code[4:])
	}
	return codes, nil
}

// HashBackupCode hashes a backup code for at-rest storage. Backup codes are
// already high-entropy single-use random strings, so a fast SHA-256 digest
// (rather than a slow password KDF) is sufficient and keeps bulk-generation
// cheap.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
