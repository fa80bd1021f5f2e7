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

// EnsurePSK returns the preshared key for a server-client pair, creating a
// fresh one if the pair has none yet. Creation is idempotent.
func (s *Store) EnsurePSK(ctx context.Context, serverID, clientID string) (PresharedKey, error) {
	var psk PresharedKey
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		psk, err = ensurePSKTx(tx, s.box, serverID, clientID)
		return err
	})
	if err != nil {
		return PresharedKey{}, err
	}
	return psk, nil
}

// ensurePSKTx creates the pair's PSK if absent within the caller's
// transaction. The unique (server_id, client_id) index resolves concurrent
// creation: the loser re-reads the winner's row.
func ensurePSKTx(tx *gorm.DB, box *keybox.Box, serverID, clientID string) (PresharedKey, error) {
	var existing PresharedKey
	err := tx.Where("server_id = ? AND client_id = ?", serverID, clientID).First(&existing).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return PresharedKey{}, fmt.Errorf("load psk: %w", err)
	}

	raw, err := wgtypes.GenerateKey()
	if err != nil {
		return PresharedKey{}, fmt.Errorf("generate psk: %w", err)
	}
	ciphertext, nonce, err := box.Seal(raw[:])
	if err != nil {
		return PresharedKey{}, fmt.Errorf("seal psk: %w", err)
	}

	psk := PresharedKey{
		ID:        uuid.NewString(),
		ServerID:  serverID,
		ClientID:  clientID,
		Encrypted: ciphertext,
		Nonce:     nonce,
	}
	if err := tx.Create(&psk).Error; err != nil {
		if isDuplicate(err) {
			var won PresharedKey
			if err := tx.Where("server_id = ? AND client_id = ?", serverID, clientID).First(&won).Error; err != nil {
				return PresharedKey{}, fmt.Errorf("reload psk: %w", err)
			}
			return won, nil
		}
		return PresharedKey{}, fmt.Errorf("insert psk: %w", err)
	}
	return psk, nil
}

// PSKsForServer decrypts every preshared key the server holds, keyed by
// client id and base64-encoded for the desired-state document.
func (s *Store) PSKsForServer(ctx context.Context, serverID string) (map[string]string, error) {
	var rows []PresharedKey
	if err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list psks: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		raw, err := s.box.Open(row.Encrypted, row.Nonce)
		if err != nil {
			return nil, err
		}
		key, err := wgtypes.NewKey(raw)
		if err != nil {
			return nil, fmt.Errorf("sealed psk has wrong length: %w", err)
		}
		out[row.ClientID] = key.String()
	}
	return out, nil
}
