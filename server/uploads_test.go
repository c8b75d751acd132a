// Copyright 2026 The AgentSphere Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"os"
	"strings"
	"testing"
)

func TestUploadStoreContentAddressing(t *testing.T) {
	t.Parallel()
	store, err := NewUploadStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewUploadStore: %v", err)
	}

	first, err := store.Put(strings.NewReader("extension bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := store.Put(strings.NewReader("extension bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if first != second {
		t.Errorf("identical uploads stored at %q and %q", first, second)
	}

	other, err := store.Put(strings.NewReader("different bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if other == first {
		t.Error("distinct uploads share a path")
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("reading stored upload: %v", err)
	}
	if string(data) != "extension bytes" {
		t.Errorf("stored content: got %q", data)
	}
}
