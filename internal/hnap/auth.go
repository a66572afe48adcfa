// Package hnap implements the Motorola HNAP management protocol used by
// the MB8600 cable modem: HMAC-MD5 credential derivation, the two-step
// challenge/login handshake, and the authenticated combined status call.
package hnap

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ActionURIPrefix is the vendor SOAP namespace every action lives under.
const ActionURIPrefix = "http://purenetworks.com/HNAP1/"

// placeholderKey signs requests made before a session key exists.
const placeholderKey = "withoutloginkey"

// The device truncates the millisecond timestamp used for auth headers.
const authTimeModulus = 2_000_000_000_000

func hmacMD5Hex(key, message string) string {
	mac := hmac.New(md5.New, []byte(key))
	mac.Write([]byte(message))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// DerivePrivateKey computes the session private key from the login
// challenge: HMAC-MD5 keyed with publicKey+password over the challenge,
// upper-case hex.
func DerivePrivateKey(publicKey, password, challenge string) string {
	return hmacMD5Hex(publicKey+password, challenge)
}

// DeriveLoginPassword computes the password submitted in the login step:
// HMAC-MD5 keyed with the private key over the challenge, upper-case hex.
func DeriveLoginPassword(privateKey, challenge string) string {
	return hmacMD5Hex(privateKey, challenge)
}

// AuthHeader builds the Hnap_auth header value for an action: the
// HMAC-MD5 of "<millis><actionURI>" keyed with key, followed by a space
// and the same millisecond timestamp. Pass an empty key before login;
// the device expects a fixed placeholder in that case.
func AuthHeader(action, key string) string {
	if key == "" {
		key = placeholderKey
	}
	millis := time.Now().UnixMilli() % authTimeModulus
	digest := hmacMD5Hex(key, fmt.Sprintf("%d%s%s", millis, ActionURIPrefix, action))
	return fmt.Sprintf("%s %d", digest, millis)
}
