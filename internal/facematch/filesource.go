package facematch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// EncodingsFile is the JSON layout of an exported gallery:
//
//	{"model": "dlib_resnet", "subjects": [{"key": "stu_1_alice", "name": "Alice", "embeddings": [[...], ...]}]}
type EncodingsFile struct {
	Model    string           `json:"model,omitempty"`
	Subjects []EncodedSubject `json:"subjects"`
}

type EncodedSubject struct {
	Key        string      `json:"key"`
	Name       string      `json:"name,omitempty"`
	Code       string      `json:"code,omitempty"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Enrollments flattens the file into gallery entries.
func (f *EncodingsFile) Enrollments() []Enrollment {
	var out []Enrollment
	for _, s := range f.Subjects {
		for _, e := range s.Embeddings {
			out = append(out, Enrollment{SubjectKey: s.Key, Embedding: e})
		}
	}
	return out
}

// ReadEncodings decodes and sanity checks an encodings document.
func ReadEncodings(r io.Reader) (*EncodingsFile, error) {
	var f EncodingsFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode encodings: %w", err)
	}

	dim := 0
	for i, s := range f.Subjects {
		if s.Key == "" {
			return nil, fmt.Errorf("subject #%d has no key", i)
		}
		for j, e := range s.Embeddings {
			if dim == 0 {
				dim = len(e)
			}
			if len(e) == 0 || len(e) != dim {
				return nil, fmt.Errorf("subject %s embedding #%d has dimension %d, expected %d", s.Key, j, len(e), dim)
			}
		}
	}
	return &f, nil
}

// LoadEncodingsFile reads an encodings document from disk.
func LoadEncodingsFile(path string) (*EncodingsFile, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open encodings file: %w", err)
	}
	defer fh.Close()
	return ReadEncodings(fh)
}

// FileSource serves a gallery from an encodings file. The marker is the file's
// modification time and size, so rewriting the file triggers a reload.
type FileSource struct {
	Path string
}

var _ Source = (*FileSource)(nil)

func (s *FileSource) Marker(_ context.Context) (string, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return "", fmt.Errorf("stat encodings file: %w", err)
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size()), nil
}

func (s *FileSource) Load(_ context.Context) ([]Enrollment, error) {
	f, err := LoadEncodingsFile(s.Path)
	if err != nil {
		return nil, err
	}
	return f.Enrollments(), nil
}
