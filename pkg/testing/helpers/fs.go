// go-synclock
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-synclock.
//
// go-synclock is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-synclock is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-synclock.  If not, see <http://www.gnu.org/licenses/>.

// Package helpers holds filesystem fixtures shared by package tests.
package helpers

import (
	"fmt"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

type FSHelper struct {
	Fs afero.Fs
}

func NewMemoryFS() *FSHelper {
	return &FSHelper{
		Fs: afero.NewMemMapFs(),
	}
}

// CreateConfigFile writes cfg to path as TOML.
func (h *FSHelper) CreateConfigFile(path string, cfg map[string]any) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to TOML: %w", err)
	}
	return h.WriteFile(path, data)
}

// WriteFile writes content to path, creating parent directories.
func (h *FSHelper) WriteFile(path string, content []byte) error {
	if err := h.Fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for file %s: %w", path, err)
	}
	if err := afero.WriteFile(h.Fs, path, content, 0o600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}

func (h *FSHelper) FileExists(path string) bool {
	exists, err := afero.Exists(h.Fs, path)
	if err != nil {
		return false
	}
	return exists
}

func (h *FSHelper) ReadFile(path string) ([]byte, error) {
	data, err := afero.ReadFile(h.Fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}
