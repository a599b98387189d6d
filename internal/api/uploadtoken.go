package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// UploadTokenTTL bounds how long an issued upload capability stays valid.
const UploadTokenTTL = 15 * time.Minute

var ErrBadUploadToken = errors.New("upload token invalid or expired")

type uploadTokenPayload struct {
	DeploymentID string `json:"deployment_id"`
	Filename     string `json:"filename"`
	Exp          int64  `json:"exp"`
}

// signUploadToken mints base64url(payload).hex(hmac-sha256(payload, secret)).
func signUploadToken(deploymentID, filename string, exp time.Time, secret []byte) (string, error) {
	payload, err := json.Marshal(uploadTokenPayload{
		DeploymentID: deploymentID,
		Filename:     filename,
		Exp:          exp.Unix(),
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + hex.EncodeToString(mac.Sum(nil)), nil
}

// verifyUploadToken checks signature, expiry, and that the token was
// minted for the deployment named in the URL.
func verifyUploadToken(token, deploymentID string, secret []byte) error {
	dot := strings.IndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return ErrBadUploadToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return ErrBadUploadToken
	}
	sig, err := hex.DecodeString(token[dot+1:])
	if err != nil {
		return ErrBadUploadToken
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return ErrBadUploadToken
	}

	var claims uploadTokenPayload
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ErrBadUploadToken
	}
	if claims.DeploymentID != deploymentID {
		return ErrBadUploadToken
	}
	if time.Now().Unix() >= claims.Exp {
		return ErrBadUploadToken
	}
	return nil
}
