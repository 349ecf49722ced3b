package qcow2

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/aead/serpent"
	"github.com/containers/luksy"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/xts"
)

// Connect refuses any CryptMethod other than EncryptionNone (format.go's
// Header.Validate). The decryptors below work outside any Engine: given a
// password, they turn an encrypted image's clusters back into plaintext.
// LegacyAESDecryptor backs the offline "qcow2ctl recover" path;
// LUKSDecryptor is library code that no CLI subcommand calls.

// LegacyAESDecryptor implements QCOW2's original, deprecated encryption
// method 1: AES-128-CBC with the password copied directly into the key
// (no key derivation) and a predictable per-sector IV. It's weak by
// construction; it exists only to recover data from very old images.
type LegacyAESDecryptor struct {
	block cipher.Block
}

func NewLegacyAESDecryptor(password string) (*LegacyAESDecryptor, error) {
	key := make([]byte, 16)
	copy(key, password)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("qcow2: legacy AES key setup: %w", err)
	}
	return &LegacyAESDecryptor{block: block}, nil
}

// DecryptCluster decrypts a cluster-sized ciphertext whose first sector maps
// to virtual sector number startSector (the IV source).
func (d *LegacyAESDecryptor) DecryptCluster(ciphertext []byte, startSector uint64) ([]byte, error) {
	if len(ciphertext)%512 != 0 {
		return nil, fmt.Errorf("qcow2: legacy AES cluster must be a multiple of 512 bytes")
	}
	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += 512 {
		iv := make([]byte, aes.BlockSize)
		binary.LittleEndian.PutUint64(iv, startSector+uint64(i/512))
		cipher.NewCBCDecrypter(d.block, iv).CryptBlocks(plaintext[i:i+512], ciphertext[i:i+512])
	}
	return plaintext, nil
}

// LUKSDecryptor decrypts LUKS1/LUKS2-wrapped QCOW2 volumes with AES-XTS or
// Serpent-XTS, keyed by sector number rather than luksy's own sequential
// counter so scattered qcow2 clusters can be decrypted in any order.
type LUKSDecryptor struct {
	cipher     *xts.Cipher
	sectorSize int
}

func NewLUKSDecryptor(r luksy.ReaderAtSeekCloser, password string) (*LUKSDecryptor, error) {
	v1hdr, v2hdr, _, v2json, err := luksy.ReadHeaders(r, luksy.ReadHeaderOptions{})
	if err != nil {
		return nil, fmt.Errorf("qcow2: reading LUKS header: %w", err)
	}
	switch {
	case v1hdr != nil:
		return newLUKS1Decryptor(v1hdr, r, password)
	case v2hdr != nil && v2json != nil:
		return newLUKS2Decryptor(v2json, r, password)
	default:
		return nil, fmt.Errorf("qcow2: no LUKS header found")
	}
}

func newLUKS1Decryptor(hdr *luksy.V1Header, r io.ReaderAt, password string) (*LUKSDecryptor, error) {
	blockCipher, err := blockCipherFor(hdr.CipherName())
	if err != nil {
		return nil, err
	}
	if mode := hdr.CipherMode(); mode != "xts-plain64" && mode != "xts-plain" {
		return nil, fmt.Errorf("qcow2: unsupported LUKS1 cipher mode %q", mode)
	}
	hashFunc := hashFuncFor(hdr.HashSpec())
	if hashFunc == nil {
		return nil, fmt.Errorf("qcow2: unsupported LUKS1 hash %q", hdr.HashSpec())
	}
	keyBytes := int(hdr.KeyBytes())

	var masterKey []byte
	for slot := 0; slot < 8; slot++ {
		ks, err := hdr.KeySlot(slot)
		if err != nil {
			continue
		}
		if active, err := ks.Active(); err != nil || !active {
			continue
		}
		mk, err := unlockLUKS1Slot(hdr, &ks, r, password, keyBytes, hashFunc)
		if err == nil {
			masterKey = mk
			break
		}
	}
	if masterKey == nil {
		return nil, fmt.Errorf("qcow2: LUKS1 unlock failed (wrong password?)")
	}

	x, err := xts.NewCipher(blockCipher, masterKey)
	if err != nil {
		return nil, fmt.Errorf("qcow2: XTS setup: %w", err)
	}
	return &LUKSDecryptor{cipher: x, sectorSize: 512}, nil
}

func unlockLUKS1Slot(hdr *luksy.V1Header, ks *luksy.V1KeySlot, r io.ReaderAt, password string, keyBytes int, hashFunc func() hash.Hash) ([]byte, error) {
	afKey := pbkdf2.Key([]byte(password), ks.KeySlotSalt(), int(ks.Iterations()), keyBytes, hashFunc)

	stripes := int(ks.Stripes())
	keyMaterialOffset := int64(ks.KeyMaterialOffset()) * 512
	keyMaterialSize := keyBytes * stripes
	encrypted := make([]byte, (keyMaterialSize+511)/512*512)
	if _, err := r.ReadAt(encrypted, keyMaterialOffset); err != nil {
		return nil, fmt.Errorf("reading key material: %w", err)
	}

	splitKey, err := decryptAFKeyMaterial(encrypted[:keyMaterialSize], afKey, keyBytes)
	if err != nil {
		return nil, err
	}
	masterKey := afMerge(splitKey, keyBytes, stripes, hashFunc)

	expect := pbkdf2.Key(masterKey, hdr.MKDigestSalt(), int(hdr.MKDigestIter()), len(hdr.MKDigest()), hashFunc)
	if !hmacEqual(expect, hdr.MKDigest()) {
		return nil, fmt.Errorf("master key digest mismatch")
	}
	return masterKey, nil
}

func newLUKS2Decryptor(json *luksy.V2JSON, r io.ReaderAt, password string) (*LUKSDecryptor, error) {
	var segment *luksy.V2JSONSegment
	for _, seg := range json.Segments {
		if seg.Type == "crypt" {
			s := seg
			segment = &s
			break
		}
	}
	if segment == nil || segment.V2JSONSegmentCrypt == nil {
		return nil, fmt.Errorf("qcow2: no crypt segment in LUKS2 JSON")
	}
	cipherName, err := luks2CipherName(segment.Encryption)
	if err != nil {
		return nil, err
	}
	blockCipher, err := blockCipherFor(cipherName)
	if err != nil {
		return nil, err
	}
	sectorSize := segment.SectorSize
	if sectorSize == 0 {
		sectorSize = 512
	}

	var masterKey []byte
	for slotID, slot := range json.Keyslots {
		s := slot
		if s.Type != "luks2" || s.V2JSONKeyslotLUKS2 == nil {
			continue
		}
		mk, err := unlockLUKS2Slot(json, slotID, &s, r, password)
		if err == nil {
			masterKey = mk
			break
		}
	}
	if masterKey == nil {
		return nil, fmt.Errorf("qcow2: LUKS2 unlock failed (wrong password?)")
	}

	x, err := xts.NewCipher(blockCipher, masterKey)
	if err != nil {
		return nil, fmt.Errorf("qcow2: XTS setup: %w", err)
	}
	return &LUKSDecryptor{cipher: x, sectorSize: sectorSize}, nil
}

func unlockLUKS2Slot(json *luksy.V2JSON, slotID string, slot *luksy.V2JSONKeyslot, r io.ReaderAt, password string) ([]byte, error) {
	luks2 := slot.V2JSONKeyslotLUKS2
	keySize := slot.KeySize
	if keySize == 0 {
		return nil, fmt.Errorf("key slot has no key size")
	}
	if luks2.AF.Type != "luks1" || luks2.AF.V2JSONAFLUKS1 == nil {
		return nil, fmt.Errorf("unsupported AF type %q", luks2.AF.Type)
	}
	stripes := luks2.AF.Stripes
	hashFunc := hashFuncFor(luks2.AF.Hash)
	if hashFunc == nil {
		return nil, fmt.Errorf("unsupported AF hash %q", luks2.AF.Hash)
	}

	var afKey []byte
	switch kdf := luks2.Kdf; kdf.Type {
	case "pbkdf2":
		kdfHash := hashFuncFor(kdf.Hash)
		if kdfHash == nil {
			return nil, fmt.Errorf("unsupported PBKDF2 hash %q", kdf.Hash)
		}
		afKey = pbkdf2.Key([]byte(password), kdf.Salt, kdf.Iterations, keySize, kdfHash)
	case "argon2i":
		afKey = argon2.Key([]byte(password), kdf.Salt, uint32(kdf.Time), uint32(kdf.Memory), uint8(kdf.CPUs), uint32(keySize))
	case "argon2id":
		afKey = argon2.IDKey([]byte(password), kdf.Salt, uint32(kdf.Time), uint32(kdf.Memory), uint8(kdf.CPUs), uint32(keySize))
	default:
		return nil, fmt.Errorf("unsupported KDF type %q", kdf.Type)
	}

	if slot.Area.Type != "raw" {
		return nil, fmt.Errorf("unsupported keyslot area type %q", slot.Area.Type)
	}
	encrypted := make([]byte, keySize*stripes)
	if _, err := r.ReadAt(encrypted, slot.Area.Offset); err != nil {
		return nil, fmt.Errorf("reading key material: %w", err)
	}

	splitKey, err := decryptAFKeyMaterial(encrypted, afKey, keySize)
	if err != nil {
		return nil, err
	}
	masterKey := afMerge(splitKey, keySize, stripes, hashFunc)

	for _, digest := range json.Digests {
		if digest.Type != "pbkdf2" || digest.V2JSONDigestPbkdf2 == nil {
			continue
		}
		referencesUs := false
		for _, ks := range digest.Keyslots {
			if ks == slotID {
				referencesUs = true
				break
			}
		}
		if !referencesUs {
			continue
		}
		digestHash := hashFuncFor(digest.Hash)
		if digestHash == nil {
			continue
		}
		computed := pbkdf2.Key(masterKey, digest.Salt, digest.Iterations, len(digest.Digest), digestHash)
		if hmacEqual(computed, digest.Digest) {
			return masterKey, nil
		}
	}
	return nil, fmt.Errorf("master key digest mismatch")
}

// decryptAFKeyMaterial reverses the XTS encryption LUKS applies to a key
// slot's anti-forensic-split key material, sector by sector from sector 0.
func decryptAFKeyMaterial(encrypted []byte, afKey []byte, keyBytes int) ([]byte, error) {
	if len(afKey) < keyBytes {
		return nil, fmt.Errorf("derived key too short: got %d, need %d", len(afKey), keyBytes)
	}
	x, err := xts.NewCipher(aes.NewCipher, afKey)
	if err != nil {
		return nil, fmt.Errorf("key material XTS setup: %w", err)
	}
	plaintext := make([]byte, len(encrypted))
	const sectorSize = 512
	for i := 0; i < len(encrypted); i += sectorSize {
		end := i + sectorSize
		if end > len(encrypted) {
			end = len(encrypted)
		}
		x.Decrypt(plaintext[i:end], encrypted[i:end], uint64(i/sectorSize))
	}
	return plaintext, nil
}

// afMerge reverses LUKS's anti-forensic split: XOR each stripe in turn into
// an accumulator, diffusing the accumulator with afDiffuse between stripes.
func afMerge(splitKey []byte, keyLen int, stripes int, hashFunc func() hash.Hash) []byte {
	d := make([]byte, keyLen)
	for i := 0; i < stripes-1; i++ {
		start := i * keyLen
		if start+keyLen > len(splitKey) {
			break
		}
		for j := 0; j < keyLen; j++ {
			d[j] ^= splitKey[start+j]
		}
		d = afDiffuse(d, hashFunc)
	}
	last := (stripes - 1) * keyLen
	if last >= 0 && last+keyLen <= len(splitKey) {
		for j := 0; j < keyLen; j++ {
			d[j] ^= splitKey[last+j]
		}
	}
	return d
}

func afDiffuse(data []byte, hashFunc func() hash.Hash) []byte {
	h := hashFunc()
	hashSize := h.Size()
	result := make([]byte, len(data))
	for i := 0; i < len(data); i += hashSize {
		h.Reset()
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i/hashSize))
		h.Write(idx[:])
		end := i + hashSize
		if end > len(data) {
			end = len(data)
		}
		h.Write(data[i:end])
		copy(result[i:], h.Sum(nil))
	}
	return result
}

func hashFuncFor(spec string) func() hash.Hash {
	switch spec {
	case "sha1":
		return sha1.New
	case "sha256":
		return sha256.New
	case "sha512":
		return sha512.New
	default:
		return nil
	}
}

// blockCipherFor resolves a LUKS cipher name to the block cipher
// constructor xts.NewCipher expects. LUKS volumes most commonly use aes;
// serpent is the other cipher luksy's format can describe.
func blockCipherFor(name string) (func(key []byte) (cipher.Block, error), error) {
	switch name {
	case "aes":
		return aes.NewCipher, nil
	case "serpent":
		return serpent.NewCipher, nil
	default:
		return nil, fmt.Errorf("qcow2: unsupported LUKS cipher %q", name)
	}
}

func luks2CipherName(encryption string) (string, error) {
	switch encryption {
	case "aes-xts-plain64", "aes-xts-plain":
		return "aes", nil
	case "serpent-xts-plain64", "serpent-xts-plain":
		return "serpent", nil
	default:
		return "", fmt.Errorf("qcow2: unsupported LUKS2 encryption %q", encryption)
	}
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// SectorSize reports the LUKS payload sector size (usually 512).
func (d *LUKSDecryptor) SectorSize() int { return d.sectorSize }

// DecryptCluster decrypts a cluster-sized ciphertext starting at the given
// payload-relative byte offset, each sector keyed by its own sector number
// so clusters can be decrypted independently of read order.
func (d *LUKSDecryptor) DecryptCluster(ciphertext []byte, byteOffset uint64) ([]byte, error) {
	if len(ciphertext)%d.sectorSize != 0 {
		return nil, fmt.Errorf("qcow2: cluster must be a multiple of %d bytes", d.sectorSize)
	}
	plaintext := make([]byte, len(ciphertext))
	startSector := byteOffset / uint64(d.sectorSize)
	for i := 0; i < len(ciphertext); i += d.sectorSize {
		sectorNum := startSector + uint64(i/d.sectorSize)
		d.cipher.Decrypt(plaintext[i:i+d.sectorSize], ciphertext[i:i+d.sectorSize], sectorNum)
	}
	return plaintext, nil
}
