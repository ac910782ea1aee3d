package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// AppManifest is the document an app presents to a node's auth
// endpoint to obtain a bearer token. Signature covers the JSON
// encoding of every other field with AppKey as the verification key,
// produced by SignManifest at `apps sign` time.
type AppManifest struct {
	AppId       string            `json:"appId"`
	DisplayName string            `json:"displayName"`
	Version     string            `json:"version"`
	Settings    map[string]string `json:"settings,omitempty"`
	AppKey      ed25519.PublicKey `json:"appKey"`
	Signature   []byte            `json:"signature"`
}

func (m AppManifest) signingBytes() ([]byte, error) {
	unsigned := m
	unsigned.Signature = nil
	return json.Marshal(unsigned)
}

// SignManifest signs every field of m except Signature with priv and
// returns the signed copy. priv must correspond to m.AppKey.
func SignManifest(m AppManifest, priv ed25519.PrivateKey) (AppManifest, error) {
	m.Signature = nil
	payload, err := m.signingBytes()
	if err != nil {
		return AppManifest{}, fmt.Errorf("failed to encode manifest for signing: %w", err)
	}
	m.Signature = ed25519.Sign(priv, payload)
	return m, nil
}

// VerifyManifest checks that m.Signature was produced by the private
// half of m.AppKey over m's other fields.
func VerifyManifest(m AppManifest) error {
	if len(m.AppKey) != ed25519.PublicKeySize {
		return fmt.Errorf("manifest app key has wrong length %d", len(m.AppKey))
	}
	payload, err := m.signingBytes()
	if err != nil {
		return fmt.Errorf("failed to encode manifest for verification: %w", err)
	}
	if !ed25519.Verify(m.AppKey, payload, m.Signature) {
		return fmt.Errorf("manifest signature does not verify against app key")
	}
	return nil
}
