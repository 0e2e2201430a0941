package idp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"identity-bridge/internal/domain"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

const defaultSkewRetryDelay = 2 * time.Second

// Verifier valida un bearer token del proveedor y devuelve claims
// normalizados.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (domain.Claims, error)
}

// TokenVerifier valida ID tokens RS256 contra las claves públicas del
// proveedor. No persiste nada: es solo una frontera de traducción.
type TokenVerifier struct {
	logger    *zap.Logger
	keys      *KeySource
	issuer    string
	audience  string
	skewDelay time.Duration
}

// NewTokenVerifier crea un TokenVerifier para el proyecto configurado.
func NewTokenVerifier(logger *zap.Logger, keys *KeySource, issuer, audience string) *TokenVerifier {
	return &TokenVerifier{
		logger:    logger,
		keys:      keys,
		issuer:    issuer,
		audience:  audience,
		skewDelay: defaultSkewRetryDelay,
	}
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"email_verified"`
	Firebase      struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// Verify valida el token y clasifica el fallo: expirado, inválido o proveedor
// caído. Ante un token "todavía no válido" (drift de reloj entre emisor y
// verificador) reintenta una sola vez tras una espera fija; ningún otro fallo
// se reintenta.
func (v *TokenVerifier) Verify(ctx context.Context, bearer string) (domain.Claims, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return domain.Claims{}, ErrTokenInvalid
	}

	claims, err := v.parse(ctx, bearer)
	if err != nil && errors.Is(err, errTokenNotYetValid) {
		v.logger.Warn("token not yet valid, retrying once after skew delay")
		select {
		case <-time.After(v.skewDelay):
		case <-ctx.Done():
			return domain.Claims{}, ErrTokenInvalid
		}
		claims, err = v.parse(ctx, bearer)
	}
	if err != nil {
		if errors.Is(err, errTokenNotYetValid) {
			return domain.Claims{}, ErrTokenInvalid
		}
		return domain.Claims{}, err
	}

	externalID := strings.TrimSpace(claims.Subject)
	if externalID == "" {
		return domain.Claims{}, ErrTokenInvalid
	}

	signInMethod := claims.Firebase.SignInProvider
	if signInMethod == "" {
		signInMethod = "email"
	}

	return domain.Claims{
		ExternalID:    externalID,
		Email:         strings.TrimSpace(claims.Email),
		DisplayName:   claims.Name,
		AvatarURL:     claims.Picture,
		EmailVerified: claims.EmailVerified,
		SignInMethod:  signInMethod,
	}, nil
}

var errTokenNotYetValid = errors.New("token not yet valid")

func (v *TokenVerifier) parse(ctx context.Context, bearer string) (tokenClaims, error) {
	var claims tokenClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	_, err := parser.ParseWithClaims(bearer, &claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKey
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrProviderUnavailable):
			return tokenClaims{}, ErrProviderUnavailable
		case errors.Is(err, jwt.ErrTokenExpired):
			return tokenClaims{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
			return tokenClaims{}, errTokenNotYetValid
		default:
			return tokenClaims{}, ErrTokenInvalid
		}
	}
	return claims, nil
}
