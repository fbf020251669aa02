package helpers

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	addrRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

func InputError(e echo.Context, custom *string) error {
	msg := "InvalidRequest"
	if custom != nil {
		msg = *custom
	}
	return genericError(e, 400, msg)
}

func AuthError(e echo.Context, custom *string) error {
	msg := "NotAuthorized"
	if custom != nil {
		msg = *custom
	}
	return genericError(e, 403, msg)
}

func NotFoundError(e echo.Context, custom *string) error {
	msg := "NotFound"
	if custom != nil {
		msg = *custom
	}
	return genericError(e, 404, msg)
}

func ServerError(e echo.Context, suffix *string) error {
	msg := "Internal server error"
	if suffix != nil {
		msg += ". " + *suffix
	}
	return genericError(e, 500, msg)
}

func genericError(e echo.Context, code int, msg string) error {
	return e.JSON(code, map[string]string{
		"error": msg,
	})
}

// CanonicalAddress lowercases a 0x-hex 20-byte address. Returns false if
// the input is not a valid address.
func CanonicalAddress(s string) (string, bool) {
	if !addrRe.MatchString(s) {
		return "", false
	}
	return strings.ToLower(s), true
}

// CanonicalHash lowercases a 0x-hex 32-byte hash. Returns false if the
// input is not a valid hash.
func CanonicalHash(s string) (string, bool) {
	if !hashRe.MatchString(s) {
		return "", false
	}
	return strings.ToLower(s), true
}

func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

var filenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename strips path components and unsafe characters from an
// uploaded filename.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = filenameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "document"
	}
	return name
}
