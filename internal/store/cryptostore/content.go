package cryptostore

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Content format, self-describing and shared across scheme versions:
//
//	header:  magic(4) | version(1) | fileNonce(12)
//	body:    plaintext split into 64 KiB chunks, each sealed with
//	         AES-256-GCM; chunk nonce = fileNonce with its last four bytes
//	         XORed with the chunk counter.
//
// A final chunk shorter than the chunk size always terminates the stream;
// it is empty when the plaintext length is a multiple of the chunk size
// (including zero), so truncation at a chunk boundary never verifies.
//
// Version 2, the write path, binds each chunk to its position by sealing
// with the big-endian chunk index as associated data. Version 1 is the
// same framing with no associated data and remains readable; the decoder
// picks the rules from the stored header, never from configuration.

const (
	contentChunkSize = 64 * 1024
	contentNonceLen  = 12
	contentHeaderLen = 4 + 1 + contentNonceLen
	gcmOverhead      = 16

	schemeV1 = 1
	schemeV2 = 2

	// schemeCurrent is what new content is written as.
	schemeCurrent = schemeV2
)

var contentMagic = []byte("TSEC")

// encryptedLength maps a plaintext length to its on-store length.
func encryptedLength(plain int64) int64 {
	chunks := plain/contentChunkSize + 1
	return contentHeaderLen + plain + chunks*gcmOverhead
}

// plaintextLength inverts encryptedLength. The framing is shared across
// versions, so recovery needs no header read.
func plaintextLength(stored int64) (int64, error) {
	body := stored - contentHeaderLen
	if body < gcmOverhead {
		return 0, fmt.Errorf("%w: stored length %d too short", ErrIntegrity, stored)
	}
	full := (body - gcmOverhead) / (contentChunkSize + gcmOverhead)
	plain := body - (full+1)*gcmOverhead
	if plain < 0 || encryptedLength(plain) != stored {
		return 0, fmt.Errorf("%w: stored length %d does not frame", ErrIntegrity, stored)
	}
	return plain, nil
}

func chunkNonce(fileNonce []byte, index uint32) []byte {
	nonce := make([]byte, contentNonceLen)
	copy(nonce, fileNonce)
	ctr := binary.BigEndian.Uint32(nonce[contentNonceLen-4:]) ^ index
	binary.BigEndian.PutUint32(nonce[contentNonceLen-4:], ctr)
	return nonce
}

func chunkAAD(version byte, index uint64) []byte {
	if version == schemeV1 {
		return nil
	}
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, index)
	return aad
}

// encryptReader produces the encrypted form of plain. Output length is
// exactly encryptedLength of the plaintext length.
type encryptReader struct {
	aead      cipher.AEAD
	src       io.Reader
	fileNonce []byte
	buf       bytes.Buffer
	index     uint64
	headered  bool
	done      bool
}

func newEncryptReader(aead cipher.AEAD, src io.Reader) (*encryptReader, error) {
	fileNonce := make([]byte, contentNonceLen)
	if _, err := rand.Read(fileNonce); err != nil {
		return nil, fmt.Errorf("cryptostore: nonce: %w", err)
	}
	return &encryptReader{aead: aead, src: src, fileNonce: fileNonce}, nil
}

func (e *encryptReader) Read(p []byte) (int, error) {
	for e.buf.Len() == 0 {
		if e.done {
			return 0, io.EOF
		}
		if !e.headered {
			e.buf.Write(contentMagic)
			e.buf.WriteByte(schemeCurrent)
			e.buf.Write(e.fileNonce)
			e.headered = true
			continue
		}

		chunk := make([]byte, contentChunkSize)
		n, err := io.ReadFull(e.src, chunk)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, err
		}
		if n < contentChunkSize {
			e.done = true
		}

		nonce := chunkNonce(e.fileNonce, uint32(e.index))
		sealed := e.aead.Seal(nil, nonce, chunk[:n], chunkAAD(schemeCurrent, e.index))
		e.buf.Write(sealed)
		e.index++
	}
	return e.buf.Read(p)
}

// decryptReader decrypts a stored stream on the fly, selecting the scheme
// from the header it reads.
type decryptReader struct {
	aead    cipher.AEAD
	src     io.ReadCloser
	version byte
	nonce   []byte
	buf     bytes.Buffer
	index   uint64
	started bool
	done    bool
}

func newDecryptReader(aead cipher.AEAD, src io.ReadCloser) *decryptReader {
	return &decryptReader{aead: aead, src: src}
}

func (d *decryptReader) readHeader() error {
	header := make([]byte, contentHeaderLen)
	if _, err := io.ReadFull(d.src, header); err != nil {
		return fmt.Errorf("%w: header: %v", ErrIntegrity, err)
	}
	if !bytes.Equal(header[:4], contentMagic) {
		return fmt.Errorf("%w: bad magic", ErrIntegrity)
	}
	version := header[4]
	if version != schemeV1 && version != schemeV2 {
		return fmt.Errorf("%w: version %d", ErrSchemeVersion, version)
	}
	d.version = version
	d.nonce = header[5:]
	d.started = true
	return nil
}

func (d *decryptReader) Read(p []byte) (int, error) {
	if !d.started {
		if err := d.readHeader(); err != nil {
			return 0, err
		}
	}

	for d.buf.Len() == 0 {
		if d.done {
			return 0, io.EOF
		}

		frame := make([]byte, contentChunkSize+gcmOverhead)
		n, err := io.ReadFull(d.src, frame)
		switch {
		case err == io.EOF:
			// The stream must end with a short final chunk; a clean EOF on
			// a chunk boundary means the tail was cut off.
			return 0, fmt.Errorf("%w: truncated stream", ErrIntegrity)
		case err == io.ErrUnexpectedEOF:
			d.done = true
		case err != nil:
			return 0, err
		}
		if n < gcmOverhead {
			return 0, fmt.Errorf("%w: short chunk", ErrIntegrity)
		}

		nonce := chunkNonce(d.nonce, uint32(d.index))
		plain, err := d.aead.Open(nil, nonce, frame[:n], chunkAAD(d.version, d.index))
		if err != nil {
			return 0, fmt.Errorf("%w: chunk %d: %v", ErrIntegrity, d.index, err)
		}
		d.index++
		d.buf.Write(plain)

		if d.done && len(plain) == 0 {
			// Authenticated empty terminator.
			return 0, io.EOF
		}
	}
	return d.buf.Read(p)
}

func (d *decryptReader) Close() error {
	return d.src.Close()
}
