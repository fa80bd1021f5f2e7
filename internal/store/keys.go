package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"gorm.io/gorm"

	"wirewarden/internal/keybox"
)

// CreateKey generates a fresh Curve25519 keypair, seals the private half,
// and persists the row.
func (s *Store) CreateKey(ctx context.Context) (WgKey, error) {
	return createKeyTx(s.db.WithContext(ctx), s.box)
}

// createKeyTx generates and seals a keypair within the caller's transaction
// so peer creation and key creation commit together.
func createKeyTx(tx *gorm.DB, box *keybox.Box) (WgKey, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return WgKey{}, fmt.Errorf("generate keypair: %w", err)
	}

	ciphertext, nonce, err := box.Seal(priv[:])
	if err != nil {
		return WgKey{}, fmt.Errorf("seal private key: %w", err)
	}

	key := WgKey{
		ID:                  uuid.NewString(),
		PublicKey:           priv.PublicKey().String(),
		EncryptedPrivateKey: ciphertext,
		Nonce:               nonce,
	}
	if err := tx.Create(&key).Error; err != nil {
		return WgKey{}, fmt.Errorf("insert key: %w", err)
	}
	return key, nil
}

// GetKey loads one key row.
func (s *Store) GetKey(ctx context.Context, id string) (WgKey, error) {
	var key WgKey
	err := s.db.WithContext(ctx).First(&key, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WgKey{}, ErrNotFound
	}
	if err != nil {
		return WgKey{}, fmt.Errorf("load key: %w", err)
	}
	return key, nil
}

// GetKeysBatch loads all requested key rows in one query, keyed by id.
func (s *Store) GetKeysBatch(ctx context.Context, ids []string) (map[string]WgKey, error) {
	out := make(map[string]WgKey, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []WgKey
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	for _, k := range rows {
		out[k.ID] = k
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("load keys: %w: %s", ErrNotFound, id)
		}
	}
	return out, nil
}

// DeleteKey removes a key row.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&WgKey{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

// OpenKey decrypts the sealed private key and returns it base64-encoded.
// The plaintext exists only in memory.
func (s *Store) OpenKey(key WgKey) (string, error) {
	raw, err := s.box.Open(key.EncryptedPrivateKey, key.Nonce)
	if err != nil {
		return "", err
	}
	priv, err := wgtypes.NewKey(raw)
	if err != nil {
		return "", fmt.Errorf("sealed key has wrong length: %w", err)
	}
	return priv.String(), nil
}
