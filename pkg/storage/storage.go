// Package storage provides the blob storage layer for session artifacts.
//
// A Backend stores named byte objects under slash-separated keys. Two
// implementations exist: a local filesystem backend and an S3-compatible
// object store backend. Both guarantee all-or-nothing visibility: a Get or
// List issued after Put returns never observes a partial object.
package storage

import "context"

// Backend is the uniform contract over named blobs.
//
// Keys are slash-separated and never start or end with a slash. List and
// ListDirs return keys/prefixes in lexicographic order, which, combined with
// zero-padded date partitions, yields chronological order.
type Backend interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the full content of the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns up to max keys under prefix, strictly after the position
	// encoded by token (empty token starts from the beginning). The returned
	// token resumes the listing; it is empty on the terminal page.
	List(ctx context.Context, prefix, token string, max int) (keys []string, next string, err error)

	// ListDirs returns the immediate child prefixes of prefix (one level of
	// the key hierarchy), each ending in "/".
	ListDirs(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}
