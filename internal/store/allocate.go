package store

import (
	"fmt"

	"gorm.io/gorm"

	"wirewarden/pkg/ipam"
)

// allocateOffset claims the smallest free offset >= 1 for the network inside
// the caller's transaction. Walking the sorted claim set keeps the address
// space densely packed; the claim row's unique key turns a concurrent grab
// of the same offset into ErrOffsetConflict.
func allocateOffset(tx *gorm.DB, network Network) (uint32, error) {
	prefix, err := network.Prefix()
	if err != nil {
		return 0, fmt.Errorf("network %s has invalid cidr: %w", network.ID, err)
	}

	var used []uint32
	if err := tx.Model(&addressClaim{}).
		Where("network_id = ?", network.ID).
		Order("offset asc").
		Pluck("offset", &used).Error; err != nil {
		return 0, fmt.Errorf("list used offsets: %w", err)
	}

	candidate := uint32(1)
	for _, u := range used {
		if u > candidate {
			break
		}
		if u == candidate {
			candidate++
		}
	}

	if candidate >= ipam.MaxOffset(prefix.Bits()) {
		return 0, ErrNetworkFull
	}

	claim := addressClaim{NetworkID: network.ID, Offset: candidate}
	if err := tx.Create(&claim).Error; err != nil {
		if isDuplicate(err) {
			return 0, ErrOffsetConflict
		}
		return 0, fmt.Errorf("claim offset %d: %w", candidate, err)
	}
	return candidate, nil
}

// releaseOffset drops the claim row for a removed peer.
func releaseOffset(tx *gorm.DB, networkID string, offset uint32) error {
	if err := tx.Delete(&addressClaim{}, "network_id = ? AND offset = ?", networkID, offset).Error; err != nil {
		return fmt.Errorf("release offset %d: %w", offset, err)
	}
	return nil
}
