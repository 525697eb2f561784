package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// SigningKey es el par ed25519 activo con su KID.
type SigningKey struct {
	KID     string
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKey crea un par ed25519 nuevo con KID aleatorio.
// Para dev/tests; en prod la seed viene de config.
func GenerateKey() (*SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SigningKey{KID: uuid.NewString(), Public: pub, Private: priv}, nil
}

// KeyFromSeed deriva el par desde una seed ed25519 (32 bytes, base64url).
// La misma seed produce siempre la misma clave: permite reinicios sin
// invalidar tokens vigentes.
func KeyFromSeed(kid, seedB64 string) (*SigningKey, error) {
	seed, err := base64.RawURLEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, fmt.Errorf("jwt: decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("jwt: signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &SigningKey{
		KID:     kid,
		Public:  priv.Public().(ed25519.PublicKey),
		Private: priv,
	}, nil
}
