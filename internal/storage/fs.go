package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FSStore keeps objects under Root/<bucket>/<path> and signs download URLs
// with an HS256 token that the files handler checks.
type FSStore struct {
	Root          string
	PublicBaseURL string
	secret        []byte
	now           func() time.Time
}

func NewFSStore(root, publicBaseURL, signingSecret string) *FSStore {
	return &FSStore{
		Root:          root,
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		secret:        []byte(signingSecret),
		now:           time.Now,
	}
}

// WithClock replaces the clock used for token expiry.
func (s *FSStore) WithClock(now func() time.Time) *FSStore {
	s.now = now
	return s
}

type urlClaims struct {
	Bucket string `json:"b"`
	Path   string `json:"p"`
	jwt.RegisteredClaims
}

func (s *FSStore) Upload(ctx context.Context, bucket, objectPath string, data []byte) error {
	full, err := s.resolve(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	// write-then-rename so readers never see a partial document
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}

func (s *FSStore) Download(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	full, err := s.resolve(bucket, objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, objectPath, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *FSStore) CreateSignedURL(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("signed url ttl must be positive, got %s", ttl)
	}
	if _, err := s.resolve(bucket, objectPath); err != nil {
		return "", err
	}

	now := s.now()
	claims := urlClaims{
		Bucket: bucket,
		Path:   objectPath,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}

	escaped := make([]string, 0, 4)
	for _, seg := range strings.Split(objectPath, "/") {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return fmt.Sprintf("%s/api/files/%s/%s?token=%s",
		s.PublicBaseURL, url.PathEscape(bucket), strings.Join(escaped, "/"), url.QueryEscape(signed)), nil
}

// VerifyToken checks that token was issued by this store for exactly this
// object and has not expired.
func (s *FSStore) VerifyToken(token, bucket, objectPath string) error {
	var claims urlClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("invalid download token: %w", err)
	}
	if claims.Bucket != bucket || claims.Path != objectPath {
		return errors.New("invalid download token: object mismatch")
	}
	return nil
}

func (s *FSStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	base, err := s.resolve(bucket, "")
	if err != nil {
		return nil, err
	}

	var out []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *FSStore) resolve(bucket, objectPath string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket %q", bucket)
	}
	if objectPath != "" {
		clean := path.Clean("/" + objectPath)[1:]
		if clean != objectPath || strings.HasPrefix(objectPath, "/") {
			return "", fmt.Errorf("invalid object path %q", objectPath)
		}
	}
	return filepath.Join(s.Root, bucket, filepath.FromSlash(objectPath)), nil
}
