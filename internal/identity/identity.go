package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/sign"
)

// Identity is a node's persisted id and signing keypair. The keys produce the
// signature field messages carry across the mesh; nothing in the mesh
// verifies it, that belongs to an external trust collaborator.
type Identity struct {
	NodeID  string `json:"node_id"`
	PubKey  string `json:"pub_key"`
	PrivKey string `json:"priv_key"`
}

// LoadOrGenerate reads the identity file or creates a fresh one.
func LoadOrGenerate(path string) (*Identity, error) {
	if data, err := os.ReadFile(path); err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("failed to parse identity file: %w", err)
		}
		if id.NodeID != "" {
			return &id, nil
		}
	}

	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	id := &Identity{
		NodeID:  uuid.New().String(),
		PubKey:  hex.EncodeToString(pub[:]),
		PrivKey: hex.EncodeToString(priv[:]),
	}

	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write identity file: %w", err)
	}
	return id, nil
}

// Sign produces a detached hex signature over the digest.
func (id *Identity) Sign(digest []byte) string {
	raw, err := hex.DecodeString(id.PrivKey)
	if err != nil || len(raw) != 64 {
		return ""
	}
	var priv [64]byte
	copy(priv[:], raw)
	signed := sign.Sign(nil, digest, &priv)
	return hex.EncodeToString(signed[:sign.Overhead])
}
