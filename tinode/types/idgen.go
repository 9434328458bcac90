package types

import (
	"encoding/base64"
	"encoding/binary"

	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"
)

// IdGenerator produces unique random-looking string ids for client-created
// objects: names of not-yet-created group topics, device ids. Snowflake
// guarantees uniqueness, XTEA hides the sequential structure.
type IdGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

// Init initialises the generator. The key must be 16 bytes long.
func (ig *IdGenerator) Init(workerID uint, key []byte) error {
	var err error

	if ig.seq == nil {
		ig.seq, err = sf.NewSnowFlake(uint32(workerID))
		if err != nil {
			return err
		}
	}
	if ig.cipher == nil {
		ig.cipher, err = xtea.NewCipher(key)
	}
	return err
}

// GetStr returns the next unique id as an unpadded base64 string.
func (ig *IdGenerator) GetStr() string {
	id, err := ig.seq.Next()
	if err != nil {
		return ""
	}

	src := make([]byte, 8)
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, id)
	ig.cipher.Encrypt(dst, src)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(dst)
}

// NewName generates a name with the given prefix, e.g. "new" + unique tail
// for a group topic yet to be created by the server.
func (ig *IdGenerator) NewName(prefix string) string {
	tail := ig.GetStr()
	if tail == "" {
		return ""
	}
	return prefix + tail
}
