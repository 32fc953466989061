/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// AppFile is the content of applications/{app_id}.json.
type AppFile struct {
	// Source is the URL of the app's source repository.
	Source string `json:"source"`
	// Commit is the commit id the version tag resolved to.
	Commit string `json:"commit"`
	// Version is the version tag.
	Version string `json:"version"`
}

// Marshal renders f as two-space indented JSON.
func (f AppFile) Marshal() ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}

// ParseAppFile decodes a metadata file. All three fields must be present.
func ParseAppFile(data []byte) (AppFile, error) {
	var raw struct {
		Source  *string `json:"source"`
		Commit  *string `json:"commit"`
		Version *string `json:"version"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return AppFile{}, fmt.Errorf("decoding app file: %w", err)
	}
	if raw.Source == nil || raw.Commit == nil || raw.Version == nil {
		return AppFile{}, errors.New("app file must set source, commit and version")
	}
	return AppFile{
		Source:  *raw.Source,
		Commit:  *raw.Commit,
		Version: *raw.Version,
	}, nil
}
