package userdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"

	"github.com/mandelsoft/vfs/pkg/vfs"

	aerrors "go.hackfix.me/tilde/app/errors"
	dtypes "go.hackfix.me/tilde/directory/types"
)

// IndexFile is served instead of a listing when present in a directory.
const IndexFile = "index.html"

// Tree identifies one of the content trees in a home directory.
type Tree string

// All supported content trees.
const (
	TreePublic  Tree = "public"
	TreePrivate Tree = "private"
)

// Request is a request for a path in a user's content tree.
type Request struct {
	Username string
	Tree     Tree
	// Path is the slash-separated path relative to the tree root.
	Path string
	// BaseURL is the URL path of the tree root, e.g. "/~jdoe/". It's used
	// to build redirect locations.
	BaseURL string
}

// ResponseKind is the shape of a successful response.
type ResponseKind int

// All response kinds.
const (
	KindFile ResponseKind = iota
	KindListing
	KindRedirect
)

// Response describes how a Request should be answered.
type Response struct {
	Kind       ResponseKind
	StatusCode int
	// Location is the redirect target of KindRedirect responses.
	Location string
	// Name, Size and Content are set for KindFile responses. The caller must
	// close Content.
	Name    string
	Size    int64
	Content vfs.File
	// Body is the rendered document of KindListing responses.
	Body []byte
}

// Router serves files and directory listings from the content trees of home
// directories resolved with a directory service.
type Router struct {
	resolver dtypes.Resolver
	fs       vfs.FileSystem
	subRoots map[Tree]string
	logger   *slog.Logger
}

// New returns a new Router. subRoots maps each tree to the name of its
// directory inside home directories.
func New(resolver dtypes.Resolver, fsys vfs.FileSystem, subRoots map[Tree]string, logger *slog.Logger) (*Router, error) {
	if resolver == nil {
		return nil, errors.New("directory resolver is required")
	}
	if fsys == nil {
		return nil, errors.New("filesystem is required")
	}
	for _, tree := range []Tree{TreePublic, TreePrivate} {
		if subRoots[tree] == "" {
			return nil, fmt.Errorf("missing directory name for the %s tree", tree)
		}
	}

	return &Router{
		resolver: resolver,
		fs:       fsys,
		subRoots: subRoots,
		logger:   logger.With("component", "userdir"),
	}, nil
}

// Serve resolves the user's home directory, and returns the response for the
// requested path inside the tree. The path is validated before the directory
// service or filesystem are accessed.
func (rt *Router) Serve(ctx context.Context, req Request) (*Response, error) {
	subRoot, ok := rt.subRoots[req.Tree]
	if !ok {
		return nil, aerrors.NewWith("unknown content tree", "tree", req.Tree)
	}

	rel := req.Path
	if rel == "/" {
		rel = ""
	}
	if err := ValidatePath(rel); err != nil {
		return nil, aerrors.With(err, "username", req.Username, "path", rel)
	}

	home, err := rt.resolver.Resolve(ctx, req.Username)
	if err != nil {
		return nil, aerrors.With(err, "username", req.Username)
	}

	root := path.Join(home, subRoot)
	target, err := Contain(root, rel)
	if err != nil {
		return nil, aerrors.With(err, "username", req.Username, "path", rel)
	}

	realRoot, err := vfs.Canonical(rt.fs, root, true)
	if err != nil {
		return nil, statError(err, root)
	}
	target, err = rt.resolve(realRoot, target)
	if err != nil {
		return nil, aerrors.With(err, "username", req.Username)
	}

	info, err := rt.fs.Stat(target)
	if err != nil {
		return nil, statError(err, target)
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil, aerrors.With(ErrPathNotFound, "path", target, "mode", info.Mode().String())
		}
		if strings.HasSuffix(rel, "/") {
			return nil, aerrors.With(ErrPathNotFound, "path", target, "reason", "not a directory")
		}
		return rt.openFile(target, info)
	}

	if rel != "" && !strings.HasSuffix(rel, "/") {
		loc := &url.URL{Path: req.BaseURL + rel + "/"}
		return &Response{Kind: KindRedirect, StatusCode: http.StatusMovedPermanently, Location: loc.EscapedPath()}, nil
	}

	// An index that is missing or links outside of the tree is skipped.
	index, err := rt.resolve(realRoot, path.Join(target, IndexFile))
	switch {
	case err == nil:
		indexInfo, serr := rt.fs.Stat(index)
		if serr == nil && indexInfo.Mode().IsRegular() {
			return rt.openFile(index, indexInfo)
		}
		if serr != nil && !isNotExist(serr) {
			return nil, aerrors.WithCause(ErrPathAccess, serr, "path", index)
		}
	case errors.Is(err, ErrPathNotFound), errors.Is(err, ErrPathRejected):
	default:
		return nil, err
	}

	entries, err := rt.readDir(target)
	if err != nil {
		return nil, err
	}

	body, err := RenderListing(rel, entries)
	if err != nil {
		return nil, aerrors.With(err, "path", target)
	}

	return &Response{Kind: KindListing, StatusCode: http.StatusOK, Body: body}, nil
}

// resolve returns p with all symbolic links evaluated, and rejects it if the
// result is outside of root. root must already be canonical.
func (rt *Router) resolve(root, p string) (string, error) {
	resolved, err := vfs.Canonical(rt.fs, p, true)
	if err != nil {
		return "", statError(err, p)
	}
	if !within(root, resolved) {
		return "", aerrors.With(
			fmt.Errorf("%w: symbolic link resolves outside of root", ErrPathRejected),
			"path", p, "resolved", resolved)
	}

	return resolved, nil
}

func (rt *Router) openFile(p string, info fs.FileInfo) (*Response, error) {
	f, err := rt.fs.Open(p)
	if err != nil {
		return nil, statError(err, p)
	}

	return &Response{
		Kind:       KindFile,
		StatusCode: http.StatusOK,
		Name:       path.Base(p),
		Size:       info.Size(),
		Content:    f,
	}, nil
}

func (rt *Router) readDir(dir string) ([]Entry, error) {
	f, err := rt.fs.Open(dir)
	if err != nil {
		return nil, statError(err, dir)
	}
	defer f.Close()

	infos, err := f.Readdir(-1)
	if err != nil {
		return nil, aerrors.WithCause(ErrPathAccess, err, "path", dir)
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, Entry{Name: fi.Name(), IsDir: fi.IsDir()})
	}

	return entries, nil
}

func statError(err error, p string) error {
	if isNotExist(err) {
		return aerrors.WithCause(ErrPathNotFound, err, "path", p)
	}
	return aerrors.WithCause(ErrPathAccess, err, "path", p)
}

func isNotExist(err error) bool {
	return vfs.IsErrNotExist(err) || vfs.IsErrNotDir(err) ||
		errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
