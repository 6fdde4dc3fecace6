package backup

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// File layout:
//
//	magic "VMSB" | version (1 byte) | flags (1 byte) | body
//
// The body is the zstd-compressed CBOR snapshot. With flagEncrypted the body
// is salt | nonce | XChaCha20-Poly1305 ciphertext, and the header is bound as
// additional data.
const (
	formatVersion byte = 1

	flagEncrypted byte = 1 << 0

	headerSize = 6
	saltSize   = 16
	keySize    = chacha20poly1305.KeySize

	kdfIterations = 210000

	// MaxDecompressedSize bounds the snapshot a backup can expand to.
	MaxDecompressedSize = 1 << 30
)

var magic = []byte("VMSB")

var (
	// ErrInvalidFormat means the data is not a backup this version understands.
	ErrInvalidFormat = errors.New("not a valid backup file")
	// ErrPassphraseRequired means the backup is encrypted and no passphrase
	// was supplied.
	ErrPassphraseRequired = errors.New("backup is encrypted: passphrase required")
	// ErrDecryptFailed means the passphrase is wrong or the data was altered.
	ErrDecryptFailed = errors.New("failed to decrypt backup: wrong passphrase or corrupted data")
)

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("backup: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("backup: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("backup: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic("backup: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes snap. A non-empty passphrase encrypts the result.
func Encode(snap *models.Snapshot, passphrase string) ([]byte, error) {
	if snap == nil {
		return nil, apperrors.NewValidationError("snapshot", "snapshot is required")
	}

	raw, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	body := zstdEncoder.EncodeAll(raw, nil)

	var flags byte
	if passphrase != "" {
		flags |= flagEncrypted
	}
	header := append(append([]byte{}, magic...), formatVersion, flags)

	if flags&flagEncrypted == 0 {
		return append(header, body...), nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(header)+saltSize+len(nonce)+len(body)+aead.Overhead())
	out = append(out, header...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, body, header), nil
}

// Decode parses data produced by Encode.
func Decode(data []byte, passphrase string) (*models.Snapshot, error) {
	encrypted, err := IsEncrypted(data)
	if err != nil {
		return nil, err
	}
	header, body := data[:headerSize], data[headerSize:]

	if encrypted {
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		if len(body) < saltSize+chacha20poly1305.NonceSizeX {
			return nil, ErrInvalidFormat
		}
		salt, rest := body[:saltSize], body[saltSize:]
		aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cipher: %w", err)
		}
		nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
		body, err = aead.Open(nil, nonce, ciphertext, header)
		if err != nil {
			return nil, ErrDecryptFailed
		}
	}

	raw, err := zstdDecoder.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var snap models.Snapshot
	if err := decMode.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return &snap, nil
}

// IsEncrypted checks the header of data and reports whether the body is
// encrypted.
func IsEncrypted(data []byte) (bool, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], magic) {
		return false, ErrInvalidFormat
	}
	if data[4] != formatVersion {
		return false, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, data[4])
	}
	flags := data[5]
	if flags&^flagEncrypted != 0 {
		return false, fmt.Errorf("%w: unknown flags %#x", ErrInvalidFormat, flags)
	}
	return flags&flagEncrypted != 0, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keySize, sha256.New)
}
