// Package oci stores artifacts in an OCI registry.
//
// Each artifact is an image of a single layer, tagged as "<run id>.<path>",
// where characters not allowed in tags are replaced with "_".
package oci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opst/mlserve/pkg/domain/registry/artifacts"
)

// media type of artifact layers.
const MediaType types.MediaType = "application/vnd.mlserve.artifact.v1"

type Store struct {
	repo    name.Repository
	options []remote.Option
}

var _ artifacts.Store = &Store{}

type option struct {
	insecure bool
	remote   []remote.Option
}

type Option func(*option) *option

// Insecure allows plain http to talk with the registry.
func Insecure() Option {
	return func(o *option) *option {
		o.insecure = true
		return o
	}
}

// WithRemoteOptions passes options to go-containerregistry's remote.
//
// When no options are given, credentials are read from the docker config.
func WithRemoteOptions(opts ...remote.Option) Option {
	return func(o *option) *option {
		o.remote = append(o.remote, opts...)
		return o
	}
}

// New creates a Store on repository, like "registry.example.com/mlserve/artifacts".
func New(repository string, options ...Option) (*Store, error) {
	opt := &option{}
	for _, o := range options {
		opt = o(opt)
	}

	nameOpts := []name.Option{}
	if opt.insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	repo, err := name.NewRepository(repository, nameOpts...)
	if err != nil {
		return nil, err
	}

	remoteOpts := opt.remote
	if len(remoteOpts) == 0 {
		remoteOpts = []remote.Option{remote.WithAuthFromKeychain(authn.DefaultKeychain)}
	}
	return &Store{repo: repo, options: remoteOpts}, nil
}

var disallowed = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

func (s *Store) tag(runId string, path string) name.Tag {
	t := disallowed.ReplaceAllString(runId+"."+path, "_")
	if len(t) > 128 {
		t = t[:128]
	}
	return s.repo.Tag(t)
}

func (s *Store) Put(ctx context.Context, runId string, path string, content []byte) error {
	img, err := mutate.AppendLayers(empty.Image, static.NewLayer(content, MediaType))
	if err != nil {
		return err
	}
	tag := s.tag(runId, path)
	if err := remote.Write(tag, img, append(s.options, remote.WithContext(ctx))...); err != nil {
		return fmt.Errorf("pushing %s: %w", tag, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, runId string, path string) ([]byte, error) {
	tag := s.tag(runId, path)
	img, err := remote.Image(tag, append(s.options, remote.WithContext(ctx))...)
	if err != nil {
		if terr := new(transport.Error); errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", artifacts.ErrMissing, tag)
		}
		return nil, fmt.Errorf("pulling %s: %w", tag, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}
	if len(layers) != 1 {
		return nil, fmt.Errorf("%s: %d layers, expected 1", tag, len(layers))
	}
	rc, err := layers[0].Uncompressed()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
