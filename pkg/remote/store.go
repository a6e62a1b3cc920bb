package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	"github.com/3leaps/bamverify/pkg/provider"
	"github.com/3leaps/bamverify/pkg/provider/file"
	"github.com/3leaps/bamverify/pkg/provider/s3"
)

// Opener builds the provider that serves ref's bucket.
type Opener func(ctx context.Context, ref Ref) (provider.Provider, error)

// S3Options carries the connection settings shared by every s3:// ref of a job.
type S3Options struct {
	Region   string
	Endpoint string
	Profile  string
}

// NewOpener returns the production Opener: AWS S3 (or an S3-compatible
// endpoint) for s3:// refs and the local filesystem rooted at / for file:// refs.
func NewOpener(opts S3Options) Opener {
	return func(ctx context.Context, ref Ref) (provider.Provider, error) {
		switch ref.Scheme {
		case SchemeS3:
			return s3.New(ctx, s3.Config{
				Bucket:   ref.Bucket,
				Region:   opts.Region,
				Endpoint: opts.Endpoint,
				Profile:  opts.Profile,
			})
		case SchemeFile:
			return file.New(file.Config{BaseDir: string(filepath.Separator)})
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, ref.Scheme)
		}
	}
}

// Store answers size, download and upload requests for refs, opening one
// provider per scheme+bucket on first use.
//
// Store is safe for concurrent use.
type Store struct {
	open Opener

	mu        sync.Mutex
	providers map[string]provider.Provider
}

// NewStore returns a Store that opens providers with open.
func NewStore(open Opener) *Store {
	return &Store{open: open, providers: make(map[string]provider.Provider)}
}

func (s *Store) providerFor(ctx context.Context, ref Ref) (provider.Provider, error) {
	id := ref.Scheme + "://" + ref.Bucket

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.providers[id]; ok {
		return p, nil
	}
	p, err := s.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.providers[id] = p
	return p, nil
}

// Size returns the size in bytes of the object ref names.
func (s *Store) Size(ctx context.Context, ref Ref) (int64, error) {
	p, err := s.providerFor(ctx, ref)
	if err != nil {
		return 0, err
	}
	meta, err := p.Head(ctx, ref.Key)
	if err != nil {
		return 0, err
	}
	return meta.Size, nil
}

// Download copies the object into dir under its base name and returns the
// local path. The file only appears under its final name once complete.
func (s *Store) Download(ctx context.Context, ref Ref, dir string) (string, error) {
	p, err := s.providerFor(ctx, ref)
	if err != nil {
		return "", err
	}
	getter, ok := p.(provider.ObjectGetter)
	if !ok {
		return "", fmt.Errorf("download %s: %w", ref, provider.ErrUnsupported)
	}

	body, contentLength, err := getter.GetObject(ctx, ref.Key)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	dest := filepath.Join(dir, ref.Base())
	tmp, err := os.CreateTemp(dir, "."+ref.Base()+".part-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, body)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref, err)
	}
	if contentLength > 0 && n != contentLength {
		return "", fmt.Errorf("download %s: got %d bytes, expected %d", ref, n, contentLength)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("rename download: %w", err)
	}
	return dest, nil
}

// Upload copies the local file at localPath to ref.
func (s *Store) Upload(ctx context.Context, localPath string, ref Ref) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	return s.Put(ctx, ref, f, st.Size())
}

// Put writes size bytes from body to ref.
func (s *Store) Put(ctx context.Context, ref Ref, body io.Reader, size int64) error {
	p, err := s.providerFor(ctx, ref)
	if err != nil {
		return err
	}
	putter, ok := p.(provider.ObjectPutter)
	if !ok {
		return fmt.Errorf("upload %s: %w", ref, provider.ErrUnsupported)
	}
	return putter.PutObject(ctx, ref.Key, body, size)
}

// Delete removes the object ref names. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, ref Ref) error {
	p, err := s.providerFor(ctx, ref)
	if err != nil {
		return err
	}
	deleter, ok := p.(provider.ObjectDeleter)
	if !ok {
		return fmt.Errorf("delete %s: %w", ref, provider.ErrUnsupported)
	}
	return deleter.DeleteObject(ctx, ref.Key)
}

// Close closes every provider opened so far.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for id, p := range s.providers {
		err = multierr.Append(err, p.Close())
		delete(s.providers, id)
	}
	return err
}
