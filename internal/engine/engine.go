// Package engine is the ktail host: it drives the datasource for the CLI and
// keeps resumption tokens in a local token store between runs.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ktail/internal/config"
	"ktail/internal/datasource"
	"ktail/internal/tokenstore"
)

type Engine struct {
	ds    *datasource.Datasource
	store *tokenstore.Store
	log   *slog.Logger
	now   func() time.Time
}

type FetchOptions struct {
	// FromStart ignores the stored token.
	FromStart   bool
	Limit       int64
	IdleTimeout time.Duration
}

// FetchReport summarizes a finished fetch.
type FetchReport struct {
	FetchID    string
	Chunks     int
	Bytes      int64
	TokenSaved bool
}

func (e *Engine) List(prefix string) datasource.Listing { return e.ds.List(prefix) }

// Fetch reads path, resuming from the stored token, writes the data to w
// framed by the configured format and stores the new token. A cancelled fetch
// writes what it received and leaves the stored token untouched.
func (e *Engine) Fetch(ctx context.Context, path string, w io.Writer, opts FetchOptions) (FetchReport, error) {
	rep := FetchReport{FetchID: uuid.NewString()}
	log := e.log.With("fetch_id", rep.FetchID, "path", path)

	var key *datasource.Key
	if !opts.FromStart {
		entry, err := e.store.Load(path)
		switch {
		case err == nil:
			key = &datasource.Key{Kind: datasource.External, Value: entry.Token}
			log.Debug("resuming", "token_from", entry.FetchID, "token_at", entry.UpdatedAt)
		case !errors.Is(err, tokenstore.ErrNotFound):
			return rep, err
		}
	}

	res, err := e.ds.Fetch(ctx, datasource.Request{
		Path:        path,
		Key:         key,
		Limit:       opts.Limit,
		IdleTimeout: opts.IdleTimeout,
	})
	if err != nil {
		return rep, err
	}

	bw := bufio.NewWriter(w)
	fw := newFramer(res.Format, bw)
	var werr error
	for chunk := range res.Data {
		if werr != nil {
			continue
		}
		if werr = fw.write(chunk); werr == nil {
			rep.Chunks++
			rep.Bytes += int64(len(chunk))
		}
	}
	if werr == nil {
		werr = fw.close()
	}
	if werr == nil {
		werr = bw.Flush()
	}

	tok, err := res.Token(context.Background())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("fetch interrupted, token not updated", "chunks", rep.Chunks)
			return rep, werr
		}
		return rep, errors.Join(werr, err)
	}
	if werr != nil {
		return rep, fmt.Errorf("write output: %w", werr)
	}

	if err := e.store.Save(path, tokenstore.Entry{Token: tok.Value, UpdatedAt: e.now().UTC(), FetchID: rep.FetchID}); err != nil {
		return rep, err
	}
	rep.TokenSaved = true
	log.Info("fetch completed", "chunks", rep.Chunks, "bytes", rep.Bytes)
	return rep, nil
}

// Reset forgets the stored token so the next fetch starts at the client
// default.
func (e *Engine) Reset(path string) error {
	if _, err := e.ds.Resolve(path); err != nil {
		return err
	}
	return e.store.Delete(path)
}

// Token returns the stored token entry for path.
func (e *Engine) Token(path string) (tokenstore.Entry, error) {
	return e.store.Load(path)
}

// StoredToken is a token store entry. Configured is false for paths whose
// topic has since been removed from the configuration.
type StoredToken struct {
	Path       string
	Configured bool
	tokenstore.Entry
}

// Stored lists every stored token in path order.
func (e *Engine) Stored() ([]StoredToken, error) {
	paths, err := e.store.Paths()
	if err != nil {
		return nil, err
	}
	out := make([]StoredToken, 0, len(paths))
	for _, p := range paths {
		entry, err := e.store.Load(p)
		if err != nil {
			return nil, err
		}
		_, rerr := e.ds.Resolve(p)
		out = append(out, StoredToken{Path: p, Configured: rerr == nil, Entry: entry})
	}
	return out, nil
}

// Config returns the effective datasource configuration.
func (e *Engine) Config() config.Config { return e.ds.Config() }

func (e *Engine) Close() error {
	return e.store.Close()
}
