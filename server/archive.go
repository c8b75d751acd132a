// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/agentsphere/redharness/lib/codec"
	"github.com/agentsphere/redharness/runner"
)

// CompressionTag identifies the algorithm a result archive was
// compressed with. The tag is the file's first byte; these values are
// format constants.
type CompressionTag uint8

const (
	CompressionNone CompressionTag = 0
	CompressionLZ4  CompressionTag = 1
	CompressionZstd CompressionTag = 2
)

// String returns the tag's config-file name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a tag from its config-file name.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// zstd encoder and decoder are reused across calls; both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("server: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("server: zstd decoder initialization failed: " + err.Error())
	}
}

// Archive persists terminal results so report and trace survive a
// server restart. One file per task under <dir>, named
// "<taskid>.result".
//
// File format: 1 tag byte, 8 bytes little-endian uncompressed size,
// then the (possibly compressed) deterministic CBOR of the RunResult.
type Archive struct {
	dir string
	tag CompressionTag

	mu sync.Mutex
}

// NewArchive creates the archive directory if needed.
func NewArchive(dir string, tag CompressionTag) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	return &Archive{dir: dir, tag: tag}, nil
}

func (a *Archive) path(taskID string) string {
	// Task ids are generated server-side, but never trust them as
	// path components.
	return filepath.Join(a.dir, strings.ReplaceAll(taskID, string(os.PathSeparator), "_")+".result")
}

// Store writes the result for taskID, replacing any previous archive.
func (a *Archive) Store(taskID string, result *runner.RunResult) error {
	plain, err := codec.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	body, tag, err := compress(plain, a.tag)
	if err != nil {
		return fmt.Errorf("compressing result: %w", err)
	}

	buf := make([]byte, 0, 9+len(body))
	buf = append(buf, byte(tag))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(plain)))
	buf = append(buf, body...)

	a.mu.Lock()
	defer a.mu.Unlock()
	path := a.path(taskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("placing archive: %w", err)
	}
	return nil
}

// Load reads a previously stored result. Missing archives return
// os.ErrNotExist.
func (a *Archive) Load(taskID string) (*runner.RunResult, error) {
	raw, err := os.ReadFile(a.path(taskID))
	if err != nil {
		return nil, err
	}
	if len(raw) < 9 {
		return nil, fmt.Errorf("archive for %s truncated: %d bytes", taskID, len(raw))
	}
	tag := CompressionTag(raw[0])
	size := binary.LittleEndian.Uint64(raw[1:9])

	plain, err := decompress(raw[9:], tag, int(size))
	if err != nil {
		return nil, fmt.Errorf("decompressing archive for %s: %w", taskID, err)
	}

	var result runner.RunResult
	if err := codec.Unmarshal(plain, &result); err != nil {
		return nil, fmt.Errorf("decoding archive for %s: %w", taskID, err)
	}
	return &result, nil
}

// compress applies the configured algorithm. Data the algorithm
// cannot shrink is stored uncompressed; the returned tag records what
// actually happened.
func compress(data []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	switch tag {
	case CompressionNone:
		return data, CompressionNone, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return data, CompressionNone, nil
		}
		return destination[:written], CompressionLZ4, nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func decompress(body []byte, tag CompressionTag, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(body) != size {
			return nil, fmt.Errorf("size %d does not match expected %d", len(body), size)
		}
		return body, nil

	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
