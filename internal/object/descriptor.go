// Package object defines the descriptor that flows through every pipeline stage.
package object

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Destination identifies where the durable copy of an object lives.
type Destination struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// String renders the destination as a URI.
func (d Destination) String() string {
	return fmt.Sprintf("%s://%s/%s/%s", d.Scheme, d.Host, d.Bucket, d.Key)
}

// Descriptor describes one candidate file and where it should end up.
//
// Descriptors are produced by source adapters and passed between stages as
// newline-delimited JSON. They are never persisted by the pipeline itself.
type Descriptor struct {
	// Origin is the URI of the authoritative copy.
	Origin string `json:"origin"`
	// Description is free-form provenance recorded as the object's source.
	Description map[string]any `json:"description"`

	Destination

	// LocalFile is the working copy on local storage.
	LocalFile string `json:"local_file"`

	Name         string `json:"name,omitempty"`
	RefTitle     string `json:"ref_title,omitempty"`
	RefAuthors   string `json:"ref_authors,omitempty"`
	RefSource    string `json:"ref_source,omitempty"`
	RefYear      string `json:"ref_year,omitempty"`
	RefISBNOrDOI string `json:"ref_isbn_or_doi,omitempty"`
}

// UnmarshalJSON accepts local_path as an alias of local_file.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	type plain Descriptor
	aux := struct {
		*plain
		LocalPath string `json:"local_path"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decode descriptor: %w", err)
	}
	if d.LocalFile == "" {
		d.LocalFile = aux.LocalPath
	}
	return nil
}

// FileName returns the base name of the local working copy.
func (d Descriptor) FileName() string {
	return filepath.Base(d.LocalFile)
}

// DisplayName returns the human readable name, falling back to the file name.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.FileName()
}

// String renders the descriptor as a single JSON line.
func (d Descriptor) String() string {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf("{%q:%q}", "origin", d.Origin)
	}
	return string(data)
}
