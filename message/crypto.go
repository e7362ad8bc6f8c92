/******************************************************************************
 *
 *  Description :
 *    Selective field-level encryption. A caller names one or more body
 *    fields (by dotted path); those fields are lifted out of the body,
 *    JSON-encoded preserving their hierarchical shape, AES-128-CBC
 *    encrypted with a PKCS7 pad, and the base64 ciphertext is stored at
 *    the envelope's reserved ".secure" path. Decrypt reverses this.
 *
 *    Key derivation: the 256-bit material is SHA-256(secret || from ||
 *    id); the AES-128 key is the XOR of that hash's first and second
 *    16-byte halves (see DESIGN.md for why XOR-halves was chosen over
 *    "first 16 bytes" -- the source is ambiguous here, see spec open
 *    question 1). The IV is the XOR of the first and second 16-byte
 *    halves of SHA-256(from || id), independent of the secret so that
 *    re-encryption under a different secret does not need a fresh IV.
 *
 *****************************************************************************/
package message

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
)

// ErrFieldMissing is returned by Encrypt when a named field is absent
// from the body.
var ErrFieldMissing = errors.New("message: field missing for encryption")

// ErrNotEncrypted is returned by Decrypt/ReEncrypt when the message
// carries no secure payload.
var ErrNotEncrypted = errors.New("message: not encrypted")

// ErrDecryptFailed covers any failure to recover the plaintext: bad
// secret, corrupt ciphertext, or a padding mismatch. Per spec open
// question 3, this is always treated as an ordinary recoverable error.
var ErrDecryptFailed = errors.New("message: decrypt failed")

func deriveKey(secret []byte, from, id string) []byte {
	h := sha256.New()
	h.Write(secret)
	h.Write([]byte(from))
	h.Write([]byte(id))
	sum := h.Sum(nil)
	key := make([]byte, 16)
	for i := 0; i < 16; i++ {
		key[i] = sum[i] ^ sum[i+16]
	}
	return key
}

func deriveIV(from, id string) []byte {
	h := sha256.New()
	h.Write([]byte(from))
	h.Write([]byte(id))
	sum := h.Sum(nil)
	iv := make([]byte, 16)
	for i := 0; i < 16; i++ {
		iv[i] = sum[i] ^ sum[i+16]
	}
	return iv
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, ErrDecryptFailed
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, ErrDecryptFailed
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, ErrDecryptFailed
		}
	}
	return data[:n-padLen], nil
}

func aesEncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func aesDecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrDecryptFailed
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

// Encrypt removes each named field (dotted paths allowed) from the body,
// preserving their hierarchical shape in a temporary object, encrypts
// that object, and stores the base64 ciphertext at the envelope's
// secure path. It fails with ErrFieldMissing if any named field is
// absent, leaving the message unmodified.
func (m *Message) Encrypt(secret []byte, fields ...string) error {
	if len(fields) == 0 {
		return errors.New("message: no fields named for encryption")
	}
	secure := map[string]interface{}{}
	for _, f := range fields {
		v, ok := GetDotted(m.Body, f)
		if !ok {
			return ErrFieldMissing
		}
		PutDotted(secure, f, v)
	}
	plaintext, err := json.Marshal(secure)
	if err != nil {
		return err
	}
	key := deriveKey(secret, m.Envelope.From, m.Envelope.ID)
	iv := deriveIV(m.Envelope.From, m.Envelope.ID)
	ciphertext, err := aesEncryptCBC(key, iv, plaintext)
	if err != nil {
		return err
	}
	for _, f := range fields {
		RemoveDotted(m.Body, f)
	}
	m.Envelope.Secure = base64.StdEncoding.EncodeToString(ciphertext)
	return nil
}

// Decrypt reverses Encrypt: it recovers the secure object and merges its
// fields back into the body, then clears the envelope's secure path.
func (m *Message) Decrypt(secret []byte) error {
	if !m.IsEncrypted() {
		return ErrNotEncrypted
	}
	secure, err := m.decryptSecure(secret)
	if err != nil {
		return err
	}
	mergeInto(m.Body, secure)
	m.Envelope.Secure = ""
	return nil
}

// decryptSecure recovers the hierarchical secure object without mutating
// the message, for use by both Decrypt and ReEncrypt.
func (m *Message) decryptSecure(secret []byte) (map[string]interface{}, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(m.Envelope.Secure)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	key := deriveKey(secret, m.Envelope.From, m.Envelope.ID)
	iv := deriveIV(m.Envelope.From, m.Envelope.ID)
	plaintext, err := aesDecryptCBC(key, iv, ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	var secure map[string]interface{}
	if err := json.Unmarshal(plaintext, &secure); err != nil {
		return nil, ErrDecryptFailed
	}
	return secure, nil
}

// ReEncrypt re-keys the secure payload from fromSecret to toSecret
// without ever populating the message's body with plaintext: the
// recovered fields live only in a local temporary for the duration of
// the call. Used by the CPO when forwarding an encrypted message to a
// peer with a different shared secret.
func (m *Message) ReEncrypt(fromSecret, toSecret []byte) error {
	if !m.IsEncrypted() {
		return ErrNotEncrypted
	}
	secure, err := m.decryptSecure(fromSecret)
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(secure)
	if err != nil {
		return err
	}
	key := deriveKey(toSecret, m.Envelope.From, m.Envelope.ID)
	iv := deriveIV(m.Envelope.From, m.Envelope.ID)
	ciphertext, err := aesEncryptCBC(key, iv, plaintext)
	if err != nil {
		return err
	}
	m.Envelope.Secure = base64.StdEncoding.EncodeToString(ciphertext)
	return nil
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		if sub, ok := v.(map[string]interface{}); ok {
			existing, ok := dst[k].(map[string]interface{})
			if !ok {
				existing = map[string]interface{}{}
			}
			mergeInto(existing, sub)
			dst[k] = existing
			continue
		}
		dst[k] = v
	}
}

// RandomSecret returns a fresh 32-byte secret suitable for a new POClient,
// base64-encoded as stored in the secrets file.
func RandomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
