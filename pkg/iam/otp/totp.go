package otp

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"strings"
	"time"

	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30
	// BackupAlphabet omits I, O, 0 and 1, which read alike.
	BackupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultIssuer           = "Mave CMS"
	DefaultSkew             = 2
	DefaultBackupCodeCount  = 8
	DefaultBackupCodeLength = 8
)

// Config tunes secret generation and verification.
type Config struct {
	Issuer           string
	Skew             uint
	BackupCodeCount  int
	BackupCodeLength int
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.Skew == 0 {
		c.Skew = DefaultSkew
	}
	if c.BackupCodeCount <= 0 {
		c.BackupCodeCount = DefaultBackupCodeCount
	}
	if c.BackupCodeLength <= 0 {
		c.BackupCodeLength = DefaultBackupCodeLength
	}
	return c
}

// Enrollment is what a user scans into an authenticator app.
type Enrollment struct {
	Secret        string `json:"secret"`
	OTPAuthURL    string `json:"otpauth_url"`
	QRCodeDataURL string `json:"qr_code_data_url"`
}

// NewEnrollment generates a fresh TOTP secret for account.
func NewEnrollment(issuer, account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      Period,
		Digits:      potp.DigitsSix,
		Algorithm:   potp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, ErrGenerationFailed(err)
	}
	qr, err := QRCodeDataURL(key.URL())
	if err != nil {
		return nil, err
	}
	return &Enrollment{
		Secret:        key.Secret(),
		OTPAuthURL:    key.URL(),
		QRCodeDataURL: qr,
	}, nil
}

// QRCodeDataURL renders content as a PNG data URL.
func QRCodeDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return "", ErrGenerationFailed(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// ValidateTOTP checks a six digit code at t, accepting skew steps either side.
func ValidateTOTP(code, secret string, t time.Time, skew uint) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t, totp.ValidateOpts{
		Period:    Period,
		Skew:      skew,
		Digits:    potp.DigitsSix,
		Algorithm: potp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateBackupCodes returns n random codes drawn from BackupAlphabet.
func GenerateBackupCodes(n, length int) ([]string, error) {
	max := big.NewInt(int64(len(BackupAlphabet)))
	codes := make([]string, n)
	for i := range codes {
		var b strings.Builder
		b.Grow(length)
		for j := 0; j < length; j++ {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, ErrGenerationFailed(err)
			}
			b.WriteByte(BackupAlphabet[idx.Int64()])
		}
		codes[i] = b.String()
	}
	return codes, nil
}

// NormalizeBackupCode uppercases and drops separators users tend to type.
func NormalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '-':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// LooksLikeBackupCode reports whether a normalized code has the issued
// length and only BackupAlphabet characters.
func LooksLikeBackupCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(BackupAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// LooksLikeTOTP reports whether code is six digits.
func LooksLikeTOTP(code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
