package state

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	lockKeyPrefix       = []byte("swap/lock/")
	stashValueKeyPrefix = []byte("swap/stash/value/")
	stashNextKeyPrefix  = []byte("swap/stash/next/")
)

func lockKey(id common.Hash) []byte {
	buf := make([]byte, 0, len(lockKeyPrefix)+2*common.HashLength)
	buf = append(buf, lockKeyPrefix...)
	buf = append(buf, hexBytes(id.Bytes())...)
	return buf
}

func stashValueKey(k stashKey) []byte {
	return stashRecordKey(stashValueKeyPrefix, k)
}

func stashNextKey(k stashKey) []byte {
	return stashRecordKey(stashNextKeyPrefix, k)
}

func stashRecordKey(prefix []byte, k stashKey) []byte {
	buf := make([]byte, 0, len(prefix)+2*(2*common.AddressLength+common.HashLength)+2)
	buf = append(buf, prefix...)
	buf = append(buf, hexBytes(k.Token.Bytes())...)
	buf = append(buf, '/')
	buf = append(buf, hexBytes(k.Asset.Bytes())...)
	buf = append(buf, '/')
	buf = append(buf, hexBytes(k.Owner.Bytes())...)
	return buf
}

func hexBytes(b []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return out
}

func parseLockKey(key []byte) (common.Hash, error) {
	raw := key[len(lockKeyPrefix):]
	decoded, err := hex.DecodeString(string(raw))
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("state: malformed lock key %q", key)
	}
	return common.BytesToHash(decoded), nil
}

func parseStashKey(key, prefix []byte) (stashKey, error) {
	raw := string(key[len(prefix):])
	parts := strings.SplitN(raw, "/", 3)
	if len(parts) != 3 {
		return stashKey{}, fmt.Errorf("state: malformed stash key %q", key)
	}
	tokenHex, assetHex, ownerHex := parts[0], parts[1], parts[2]
	token, err := hex.DecodeString(tokenHex)
	if err != nil || len(token) != common.AddressLength {
		return stashKey{}, fmt.Errorf("state: malformed stash token in %q", key)
	}
	asset, err := hex.DecodeString(assetHex)
	if err != nil || len(asset) != common.HashLength {
		return stashKey{}, fmt.Errorf("state: malformed stash asset in %q", key)
	}
	owner, err := hex.DecodeString(ownerHex)
	if err != nil || len(owner) != common.AddressLength {
		return stashKey{}, fmt.Errorf("state: malformed stash owner in %q", key)
	}
	return stashKey{
		Token: common.BytesToAddress(token),
		Asset: common.BytesToHash(asset),
		Owner: common.BytesToAddress(owner),
	}, nil
}
