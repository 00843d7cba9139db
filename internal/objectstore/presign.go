// Package objectstore issues pre-authorized upload URLs for the invoice
// bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Presigner signs PUT grants for object keys. The grant travels as an HS256
// token in the "X-Upload-Token" query parameter and names the bucket, key
// and expiry.
type Presigner struct {
	baseURL string
	bucket  string
	key     []byte
	now     func() time.Time
}

func NewPresigner(baseURL, bucket, signingKey string) *Presigner {
	return &Presigner{baseURL: baseURL, bucket: bucket, key: []byte(signingKey), now: time.Now}
}

type uploadClaims struct {
	Bucket string `json:"bkt"`
	Method string `json:"mth"`
	jwt.RegisteredClaims
}

// IssueWriteURL returns a URL that authorizes a single PUT of objectKey for
// validity.
func (p *Presigner) IssueWriteURL(ctx context.Context, objectKey string, validity time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := p.now()
	claims := uploadClaims{
		Bucket: p.bucket,
		Method: "PUT",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   objectKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("sign upload grant: %w", err)
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse upload base url: %w", err)
	}
	u = u.JoinPath(p.bucket, objectKey)
	q := u.Query()
	q.Set("X-Upload-Token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify checks a URL issued by IssueWriteURL and returns the object key it
// grants.
func (p *Presigner) Verify(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse upload url: %w", err)
	}
	var claims uploadClaims
	_, err = jwt.ParseWithClaims(u.Query().Get("X-Upload-Token"), &claims,
		func(t *jwt.Token) (any, error) { return p.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid upload grant: %w", err)
	}
	if claims.Bucket != p.bucket || claims.Method != "PUT" {
		return "", errors.New("upload grant does not match bucket")
	}
	return claims.Subject, nil
}
