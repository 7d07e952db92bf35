package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the role claim.
const (
	RoleFaculty = "faculty"
	RoleStudent = "student"
)

// Token types carried in the typ claim. Only access tokens authorize requests.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// ErrWrongTokenType is returned when a token is used for the other purpose.
var ErrWrongTokenType = errors.New("wrong token type")

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	AccessExp    time.Time `json:"accessExpiresAt"`
	RefreshExp   time.Time `json:"refreshExpiresAt"`
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs session tokens with an HS256 key.
type Issuer struct {
	Name       string
	Key        []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issue issues signed access and refresh tokens for subject.
func (i Issuer) Issue(subject, role string) (TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(i.AccessTTL)
	refreshExp := now.Add(i.RefreshTTL)

	access, err := i.sign(subject, role, TokenAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(subject, role, TokenRefresh, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (i Issuer) sign(subject, role, typ string, now, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.Name,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Key)
}

// Parse validates a token and returns claims.
func (i Issuer) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.Key, nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if i.Name != "" && claims.Issuer != i.Name {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// ParseAccess validates a token and requires it to be an access token.
func (i Issuer) ParseAccess(tokenStr string) (Claims, error) {
	return i.parseType(tokenStr, TokenAccess)
}

// Refresh exchanges a valid refresh token for a new pair with the same
// subject and role.
func (i Issuer) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := i.parseType(refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return i.Issue(claims.Subject, claims.Role)
}

func (i Issuer) parseType(tokenStr, typ string) (Claims, error) {
	claims, err := i.Parse(tokenStr)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != typ {
		return Claims{}, ErrWrongTokenType
	}
	return claims, nil
}
