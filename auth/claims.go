package auth

import (
	"strings"
	"time"

	"github.com/MoSam007/MicasaWeb/models"
)

// Claims are the verified assertions of a bearer token. They live only for the
// duration of a request and are never persisted.
type Claims struct {
	Provider  models.AuthProvider
	Subject   string
	Email     string
	Role      string // raw role claim, unvalidated; empty when the token carries none
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       map[string]interface{}
}

// ClaimString walks paths in order and returns the first non-empty string found.
// A path is a dot-separated list of nested object keys, e.g. "public_metadata.role".
func ClaimString(payload map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v := lookupString(payload, strings.Split(path, ".")); v != "" {
			return v
		}
	}
	return ""
}

func lookupString(m map[string]interface{}, keys []string) string {
	var cur interface{} = m
	for _, k := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = obj[k]
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}
