/******************************************************************************
 *
 *  Description :
 *    The connect/reconnect authenticator: SHA-256(secret || poName ||
 *    messageId), compared byte-for-byte by the CPO. This is a distinct
 *    hash recipe from the encryption key/IV derivation in crypto.go --
 *    it hashes secret+poName+id, not secret+from+id -- and must not be
 *    confused with it.
 *
 *****************************************************************************/
package message

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// Authenticator computes the base64 authenticator value a connecting
// post office includes in manage.connect / manage.reconnect.
func Authenticator(secret []byte, poName, id string) string {
	h := sha256.New()
	h.Write(secret)
	h.Write([]byte(poName))
	h.Write([]byte(id))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyAuthenticator recomputes the authenticator and compares it in
// constant time against the value supplied on the wire.
func VerifyAuthenticator(secret []byte, poName, id, supplied string) bool {
	want := Authenticator(secret, poName, id)
	return subtle.ConstantTimeCompare([]byte(want), []byte(supplied)) == 1
}
