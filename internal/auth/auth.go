// Package auth validates joining connections with HMAC-signed JWTs.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/vango-dev/deltanet/pkg/deltanet"
	"github.com/vango-dev/deltanet/pkg/protocol"
)

var (
	// ErrMissingToken is returned when a participant connects without a token.
	ErrMissingToken = errors.New("auth: missing token")

	// ErrObserverOnly is returned when an observer-only token is used to join
	// as a participant.
	ErrObserverOnly = errors.New("auth: token only allows observing")

	// ErrNoSecret is returned when signing without a secret.
	ErrNoSecret = errors.New("auth: empty secret")
)

// Claims are the JWT claims deltanet understands.
type Claims struct {
	// Observer restricts the token to observer connections.
	Observer bool `json:"observer,omitempty"`

	gojwt.RegisteredClaims
}

// Validator checks connectUser tokens.
type Validator struct {
	secret                  []byte
	issuer                  string
	leeway                  time.Duration
	allowAnonymousObservers bool
	subjectStateID          *uint32
	now                     func() time.Time
	logger                  *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(v *Validator) { v.issuer = issuer }
}

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *Validator) { v.leeway = d }
}

// WithAnonymousObservers admits observers that send no token.
func WithAnonymousObservers() Option {
	return func(v *Validator) { v.allowAnonymousObservers = true }
}

// WithSubjectState overwrites state stateID of every accepted participant
// with the token subject.
func WithSubjectState(stateID uint32) Option {
	return func(v *Validator) { v.subjectStateID = &stateID }
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator creates a Validator for HS256 tokens signed with secret.
func NewValidator(secret []byte, opts ...Option) *Validator {
	v := &Validator{
		secret: secret,
		now:    time.Now,
		logger: slog.Default().With("component", "auth"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses token and checks its signature and time claims.
func (v *Validator) Verify(token string) (*Claims, error) {
	parserOpts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(v.now),
		gojwt.WithLeeway(v.leeway),
		gojwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, gojwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// OnJoiner is a deltanet.JoinerFunc. Expired tokens are rejected as
// retryable so clients can fetch a fresh token and reconnect.
func (v *Validator) OnJoiner(req deltanet.JoinRequest) deltanet.Verdict {
	logger := v.logger.With("connection_id", req.ConnectionID)

	if req.Token == "" {
		if req.Observer && v.allowAnonymousObservers {
			return deltanet.Accept()
		}
		return deltanet.Reject(deltanet.NewError(protocol.ErrorAuthenticationFailed, ErrMissingToken.Error()))
	}

	claims, err := v.Verify(req.Token)
	if err != nil {
		logger.Info("token rejected", "error", err)
		if errors.Is(err, gojwt.ErrTokenExpired) || errors.Is(err, gojwt.ErrTokenNotValidYet) {
			return deltanet.Reject(deltanet.NewRetryableError(protocol.ErrorAuthenticationFailed, err.Error()))
		}
		return deltanet.Reject(deltanet.NewError(protocol.ErrorAuthenticationFailed, err.Error()))
	}
	if claims.Observer && !req.Observer {
		return deltanet.Reject(deltanet.NewError(protocol.ErrorAuthenticationFailed, ErrObserverOnly.Error()))
	}

	logger.Debug("token accepted", "subject", claims.Subject, "observer", req.Observer)
	if v.subjectStateID != nil && !req.Observer {
		return deltanet.AcceptStates(map[uint32][]byte{*v.subjectStateID: []byte(claims.Subject)})
	}
	return deltanet.Accept()
}

// TokenOptions configures IssueToken.
type TokenOptions struct {
	Issuer   string
	TTL      time.Duration
	Observer bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// IssueToken signs an HS256 token for subject.
func IssueToken(secret []byte, subject string, opts TokenOptions) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	issued := now()
	claims := Claims{
		Observer: opts.Observer,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    opts.Issuer,
			IssuedAt:  gojwt.NewNumericDate(issued),
			NotBefore: gojwt.NewNumericDate(issued),
			ExpiresAt: gojwt.NewNumericDate(issued.Add(ttl)),
		},
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
