package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tempPrefix = ".coinflow-tmp-"

// LocalStore maps object keys onto files below a root directory. It backs
// dry runs and tests; keys keep their forward slashes.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local store root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Location() string {
	return "file://" + filepath.ToSlash(s.root)
}

func (s *LocalStore) path(key string) (string, error) {
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("key escapes store root")
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes body through a temp file and a rename so readers never see a
// partial object.
func (s *LocalStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "put", Bucket: s.root, Key: key, Err: err}
	}
	p, err := s.path(key)
	if err != nil {
		return &Error{Op: "put", Bucket: s.root, Key: key, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &Error{Op: "put", Bucket: s.root, Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), tempPrefix+"*")
	if err != nil {
		return &Error{Op: "put", Bucket: s.root, Key: key, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return &Error{Op: "put", Bucket: s.root, Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Op: "put", Bucket: s.root, Key: key, Err: err}
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return &Error{Op: "put", Bucket: s.root, Key: key, Err: err}
	}
	return nil
}

// List walks the whole root and returns keys starting with prefix in lexical
// order. A missing root lists as empty.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == s.root {
				return filepath.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "list", Bucket: s.root, Key: prefix, Err: err}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "get", Bucket: s.root, Key: key, Err: err}
	}
	p, err := s.path(key)
	if err != nil {
		return nil, &Error{Op: "get", Bucket: s.root, Key: key, Err: err}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ErrNotFound
		}
		return nil, &Error{Op: "get", Bucket: s.root, Key: key, Err: err}
	}
	return data, nil
}
