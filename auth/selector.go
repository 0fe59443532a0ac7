package auth

import (
	"net/http"
	"strings"

	"github.com/MoSam007/MicasaWeb/models"
)

// DefaultProviderHeader names the request header used to pick a provider
const DefaultProviderHeader = "X-Auth-Provider"

// SelectorConfig configures provider selection
type SelectorConfig struct {
	Header             string
	DefaultProvider    models.AuthProvider
	PublicPathPrefixes []string
}

// Selector decides which verifier handles a request and which paths skip verification
type Selector struct {
	header          string
	defaultProvider models.AuthProvider
	publicPrefixes  []string
	verifiers       map[models.AuthProvider]TokenVerifier
}

// NewSelector creates a selector over the configured verifiers. Nil verifiers are ignored.
func NewSelector(cfg SelectorConfig, verifiers ...TokenVerifier) *Selector {
	if cfg.Header == "" {
		cfg.Header = DefaultProviderHeader
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = models.ProviderFirebase
	}

	s := &Selector{
		header:          cfg.Header,
		defaultProvider: cfg.DefaultProvider,
		publicPrefixes:  cfg.PublicPathPrefixes,
		verifiers:       make(map[models.AuthProvider]TokenVerifier),
	}
	for _, v := range verifiers {
		if v != nil {
			s.verifiers[v.Provider()] = v
		}
	}
	return s
}

// IsPublic reports whether path is on the allow-list and bypasses verification
func (s *Selector) IsPublic(path string) bool {
	for _, prefix := range s.publicPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ProviderFor returns the provider named by the selection header, falling back
// to the default for absent or unrecognized values.
func (s *Selector) ProviderFor(r *http.Request) models.AuthProvider {
	switch models.AuthProvider(strings.ToLower(strings.TrimSpace(r.Header.Get(s.header)))) {
	case models.ProviderClerk:
		return models.ProviderClerk
	case models.ProviderFirebase:
		return models.ProviderFirebase
	default:
		return s.defaultProvider
	}
}

// Select returns the verifier for the request
func (s *Selector) Select(r *http.Request) (TokenVerifier, error) {
	provider := s.ProviderFor(r)
	v, ok := s.verifiers[provider]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	return v, nil
}

// Providers lists the providers this selector can verify
func (s *Selector) Providers() []models.AuthProvider {
	out := make([]models.AuthProvider, 0, len(s.verifiers))
	for _, p := range []models.AuthProvider{models.ProviderClerk, models.ProviderFirebase} {
		if _, ok := s.verifiers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
