package principal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims are the claims of the access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Name     string           `json:"name,omitempty"`
	Roles    jwt.ClaimStrings `json:"role,omitempty"`
	DomainID string           `json:"domain_id,omitempty"`
}

// Authenticator validates HMAC signed bearer tokens.
type Authenticator struct {
	key    []byte
	logger *zap.Logger
	parser *jwt.Parser
}

// Opt is a type for options that can be passed to NewAuthenticator.
type Opt func(*authConfig)

type authConfig struct {
	logger     *zap.Logger
	parserOpts []jwt.ParserOption
}

// WithLogger sets the logger that reports rejected tokens.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *authConfig) {
		c.logger = logger
	}
}

// WithIssuer requires tokens to be issued by iss.
func WithIssuer(iss string) Opt {
	return func(c *authConfig) {
		c.parserOpts = append(c.parserOpts, jwt.WithIssuer(iss))
	}
}

// WithAudience requires tokens to be issued for aud.
func WithAudience(aud string) Opt {
	return func(c *authConfig) {
		c.parserOpts = append(c.parserOpts, jwt.WithAudience(aud))
	}
}

// NewAuthenticator returns an Authenticator that accepts tokens signed with
// key.
func NewAuthenticator(key []byte, opts ...Opt) *Authenticator {
	cfg := authConfig{
		logger: zap.NewNop(),
		parserOpts: []jwt.ParserOption{
			jwt.WithValidMethods([]string{
				jwt.SigningMethodHS256.Alg(),
				jwt.SigningMethodHS384.Alg(),
				jwt.SigningMethodHS512.Alg(),
			}),
			jwt.WithExpirationRequired(),
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &Authenticator{
		key:    key,
		logger: cfg.logger,
		parser: jwt.NewParser(cfg.parserOpts...),
	}
}

// Validate parses and validates token.
func (a *Authenticator) Validate(token string) (*Principal, error) {
	var claims Claims

	_, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("principal: validate token: %w", err)
	}

	if claims.Subject == "" {
		return nil, errors.New("principal: token has no subject")
	}

	return &Principal{
		Subject:  claims.Subject,
		Name:     claims.Name,
		Roles:    claims.Roles,
		DomainID: claims.DomainID,
	}, nil
}

// Middleware stores the principal of requests with a valid bearer token in
// the request context. Requests without or with an invalid token are
// passed on unauthenticated, rejecting them is up to the handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		p, err := a.Validate(token)
		if err != nil {
			a.logger.Debug("rejected bearer token",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			next.ServeHTTP(w, r)

			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWith(r.Context(), p)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "bearer "

	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}

	return strings.TrimSpace(h[len(prefix):]), true
}
