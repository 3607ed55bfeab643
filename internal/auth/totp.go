package auth

import (
	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret creates a fresh TOTP key and returns its base32
// secret and the otpauth provisioning URL for authenticator apps.
func GenerateTOTPSecret(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks a 6-digit code against a base32 secret using the
// current time window.
func ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
