package message

import (
	"encoding/json"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := NewDirect("alpha.io", "beta.io", "ping", "1.alpha", true)
	m.Body["temp"] = 21.5
	PutDotted(m.Body, "nested.value", "x")

	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Envelope != m.Envelope {
		t.Fatalf("envelope mismatch: got %+v want %+v", got.Envelope, m.Envelope)
	}
	if v, ok := GetDotted(got.Body, "nested.value"); !ok || v != "x" {
		t.Fatalf("nested.value = %v, %v", v, ok)
	}
	if got.Body["temp"] != 21.5 {
		t.Fatalf("temp = %v", got.Body["temp"])
	}
}

func TestPublishOmitsTo(t *testing.T) {
	m := NewPublish("alpha.io", "sensor.temperature", "1.alpha")
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var generic map[string]interface{}
	json.Unmarshal(raw, &generic)
	env := generic[EnvelopeKey].(map[string]interface{})
	if _, present := env["to"]; present {
		t.Fatalf("publish message must omit 'to', got %v", env["to"])
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		msg     *Message
		wantErr bool
	}{
		{"direct ok", NewDirect("a.m", "b.m", "", "1.a", false), false},
		{"publish ok", NewPublish("a.m", "t", "1.a"), false},
		{"missing from", New("", "b.m", "t", "1.a"), true},
		{"missing id", New("a.m", "b.m", "t", ""), true},
		{"missing to and type", New("a.m", "", "", "1.a"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestMajorTypeAndFromPO(t *testing.T) {
	m := NewPublish("alpha.io", "sensor.temperature", "1.alpha")
	if got := m.MajorType(); got != "sensor" {
		t.Fatalf("MajorType() = %q, want sensor", got)
	}
	if got := m.FromPO(); got != "alpha" {
		t.Fatalf("FromPO() = %q, want alpha", got)
	}

	m2 := NewPublish("alpha.io", "sensor", "2.alpha")
	if got := m2.MajorType(); got != "sensor" {
		t.Fatalf("MajorType() with no minor = %q, want sensor", got)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := []byte("shared-secret-alpha")
	m := NewDirect("alpha.io", "beta.io", "creds", "1.alpha", false)
	m.Body["cred"] = "xyz"
	m.Body["user"] = "bob"

	if err := m.Encrypt(secret, "cred"); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !m.IsEncrypted() {
		t.Fatalf("expected IsEncrypted() true")
	}
	if _, present := m.Body["cred"]; present {
		t.Fatalf("cred should have been removed from body")
	}
	if m.Body["user"] != "bob" {
		t.Fatalf("unrelated field user should be untouched")
	}

	if err := m.Decrypt(secret); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if m.IsEncrypted() {
		t.Fatalf("expected IsEncrypted() false after decrypt")
	}
	if m.Body["cred"] != "xyz" {
		t.Fatalf("cred = %v, want xyz", m.Body["cred"])
	}
}

func TestEncryptMissingFieldFails(t *testing.T) {
	m := NewDirect("alpha.io", "beta.io", "creds", "1.alpha", false)
	if err := m.Encrypt([]byte("s"), "cred"); err != ErrFieldMissing {
		t.Fatalf("Encrypt with missing field: got %v, want ErrFieldMissing", err)
	}
}

func TestReEncryptEquivalence(t *testing.T) {
	s1 := []byte("secret-one")
	s2 := []byte("secret-two")
	m := NewDirect("alpha.io", "beta.io", "creds", "1.alpha", false)
	m.Body["cred"] = "xyz"
	if err := m.Encrypt(s1, "cred"); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	copyMsg, err := m.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	copyMsg.Envelope.Secure = m.Envelope.Secure

	if err := copyMsg.ReEncrypt(s1, s2); err != nil {
		t.Fatalf("ReEncrypt: %v", err)
	}
	if err := copyMsg.Decrypt(s2); err != nil {
		t.Fatalf("Decrypt after ReEncrypt: %v", err)
	}
	if copyMsg.Body["cred"] != "xyz" {
		t.Fatalf("cred after reencrypt+decrypt = %v, want xyz", copyMsg.Body["cred"])
	}
}

func TestDottedNestedFields(t *testing.T) {
	secret := []byte("s")
	m := NewDirect("alpha.io", "beta.io", "t", "1.alpha", false)
	PutDotted(m.Body, "auth.user", "bob")
	PutDotted(m.Body, "auth.pass", "hunter2")
	m.Body["visible"] = true

	if err := m.Encrypt(secret, "auth.user", "auth.pass"); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if HasDotted(m.Body, "auth.user") {
		t.Fatalf("auth.user should be removed")
	}
	if err := m.Decrypt(secret); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if v, _ := GetDotted(m.Body, "auth.user"); v != "bob" {
		t.Fatalf("auth.user = %v, want bob", v)
	}
	if v, _ := GetDotted(m.Body, "auth.pass"); v != "hunter2" {
		t.Fatalf("auth.pass = %v, want hunter2", v)
	}
	if m.Body["visible"] != true {
		t.Fatalf("visible field disturbed")
	}
}

func TestAuthenticatorRoundTrip(t *testing.T) {
	secret := []byte("a-secret")
	a := Authenticator(secret, "alpha", "1.alpha")
	if !VerifyAuthenticator(secret, "alpha", "1.alpha", a) {
		t.Fatalf("authenticator did not verify against itself")
	}
	if VerifyAuthenticator([]byte("wrong"), "alpha", "1.alpha", a) {
		t.Fatalf("authenticator verified against wrong secret")
	}
}
