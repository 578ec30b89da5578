// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package longrange

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
)

var (
	anchorPrefix  = []byte("anchor")
	expiredPrefix = []byte("expired")
	metaPrefix    = []byte("meta")

	genesisKey = []byte("genesis")
	boundsKey  = []byte("bounds")

	errCorruptedStore = errors.New("corrupted anchor store")
)

type bounds struct {
	MinAuthoritySetID uint64 `serialize:"true"`
}

// store persists anchors and expired authority sets. Keys are big endian so
// iteration follows block number and set id order.
type store struct {
	anchors database.Database
	expired database.Database
	meta    database.Database
}

func newStore(db database.Database) *store {
	return &store{
		anchors: prefixdb.New(anchorPrefix, db),
		expired: prefixdb.New(expiredPrefix, db),
		meta:    prefixdb.New(metaPrefix, db),
	}
}

func uint64Key(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func (s *store) getGenesis() (Anchor, bool, error) {
	b, err := s.meta.Get(genesisKey)
	if errors.Is(err, database.ErrNotFound) {
		return Anchor{}, false, nil
	}
	if err != nil {
		return Anchor{}, false, err
	}
	var genesis Anchor
	if _, err := Codec.Unmarshal(b, &genesis); err != nil {
		return Anchor{}, false, fmt.Errorf("%w: %w", errCorruptedStore, err)
	}
	return genesis, true, nil
}

func (s *store) putGenesis(genesis Anchor) error {
	b, err := Codec.Marshal(CodecVersion, &genesis)
	if err != nil {
		return err
	}
	return s.meta.Put(genesisKey, b)
}

func (s *store) putAnchor(anchor Anchor) error {
	b, err := Codec.Marshal(CodecVersion, &anchor)
	if err != nil {
		return err
	}
	return s.anchors.Put(uint64Key(anchor.BlockNumber), b)
}

func (s *store) deleteAnchor(blockNumber uint64) error {
	return s.anchors.Delete(uint64Key(blockNumber))
}

func (s *store) loadAnchors() ([]Anchor, error) {
	iter := s.anchors.NewIterator()
	defer iter.Release()

	var anchors []Anchor
	for iter.Next() {
		var anchor Anchor
		if _, err := Codec.Unmarshal(iter.Value(), &anchor); err != nil {
			return nil, fmt.Errorf("%w: %w", errCorruptedStore, err)
		}
		anchors = append(anchors, anchor)
	}
	return anchors, iter.Error()
}

func (s *store) putExpired(setID uint64) error {
	return s.expired.Put(uint64Key(setID), nil)
}

func (s *store) deleteExpired(setID uint64) error {
	return s.expired.Delete(uint64Key(setID))
}

func (s *store) loadExpired() ([]uint64, error) {
	iter := s.expired.NewIterator()
	defer iter.Release()

	var expired []uint64
	for iter.Next() {
		key := iter.Key()
		if len(key) != 8 {
			return nil, fmt.Errorf("%w: expired set key length %d", errCorruptedStore, len(key))
		}
		expired = append(expired, binary.BigEndian.Uint64(key))
	}
	return expired, iter.Error()
}

func (s *store) getBounds() (bounds, error) {
	b, err := s.meta.Get(boundsKey)
	if errors.Is(err, database.ErrNotFound) {
		return bounds{}, nil
	}
	if err != nil {
		return bounds{}, err
	}
	var bs bounds
	if _, err := Codec.Unmarshal(b, &bs); err != nil {
		return bounds{}, fmt.Errorf("%w: %w", errCorruptedStore, err)
	}
	return bs, nil
}

func (s *store) putBounds(bs bounds) error {
	b, err := Codec.Marshal(CodecVersion, &bs)
	if err != nil {
		return err
	}
	return s.meta.Put(boundsKey, b)
}
