// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// UploadStore keeps submitted agent extension packages on disk,
// content-addressed by BLAKE3 so identical uploads share one file.
type UploadStore struct {
	dir string
}

// NewUploadStore creates the upload directory if needed.
func NewUploadStore(dir string) (*UploadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &UploadStore{dir: dir}, nil
}

// Put stores the upload and returns its content-addressed path. An
// existing file with the same content is reused untouched.
func (s *UploadStore) Put(content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	sum := blake3.Sum256(data)
	path := filepath.Join(s.dir, hex.EncodeToString(sum[:])+".vsix")

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("placing upload: %w", err)
	}
	return path, nil
}
