// Package filesystem provides an objectstore.Store backed by a local
// directory tree. Object keys map onto file paths below a configured root
// directory.
//
// Writes land in a temporary file in the destination directory and are
// moved into place with an atomic rename, so Put keeps its all-or-nothing
// guarantee despite the filesystem having no multipart concept.
//
// Known deviation: on hosts with case-insensitive filesystems (macOS,
// Windows defaults) keys differing only in case collide. The backend does
// not hide this; keys compare case-sensitively everywhere else.
package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	objectstore "github.com/jeschkies/objectstore"
	"github.com/jeschkies/objectstore/base"
	"github.com/jeschkies/objectstore/factory"
)

const driverName = "filesystem"

// listPageSize bounds how many entries one iterator page yields, keeping
// parity with the paged cloud listings.
const listPageSize = 1000

func init() {
	factory.Register(driverName, &filesystemStoreFactory{})
}

type filesystemStoreFactory struct{}

func (f *filesystemStoreFactory) Create(ctx context.Context, parameters map[string]interface{}) (objectstore.Store, error) {
	return FromParameters(parameters)
}

// Parameters configure the filesystem backend.
type Parameters struct {
	// RootDirectory is the directory all objects live under. Required.
	RootDirectory string `mapstructure:"rootdirectory"`
}

type driver struct {
	rootDirectory string
}

type baseEmbed struct {
	base.Base
}

// Driver is an objectstore.Store implementation backed by a local
// directory tree.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a new Driver from a parameters map.
// Required parameters:
// - rootdirectory
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	var params Parameters
	if err := objectstore.DecodeParameters(driverName, parameters, &params); err != nil {
		return nil, err
	}
	if params.RootDirectory == "" {
		return nil, &objectstore.Error{
			Kind:   objectstore.InvalidConfig,
			Store:  driverName,
			Detail: fmt.Errorf("no rootdirectory parameter provided"),
		}
	}
	return New(params.RootDirectory)
}

// New constructs a new Driver rooted at rootDirectory, creating it if
// needed.
func New(rootDirectory string) (*Driver, error) {
	if err := os.MkdirAll(rootDirectory, 0o755); err != nil {
		return nil, &objectstore.Error{Kind: objectstore.InvalidConfig, Store: driverName, Detail: err}
	}
	d := &driver{rootDirectory: rootDirectory}
	return &Driver{baseEmbed{base.Base{Store: d}}}, nil
}

func (d *driver) Name() string {
	return driverName
}

// fullPath returns the host path of a key within the root directory.
func (d *driver) fullPath(path objectstore.Path) string {
	return filepath.Join(d.rootDirectory, filepath.FromSlash(path.String()))
}

func (d *driver) mapError(path objectstore.Path, err error) error {
	if err == nil {
		return nil
	}
	kind := objectstore.Generic
	switch {
	case os.IsNotExist(err):
		kind = objectstore.NotFound
	case os.IsPermission(err):
		kind = objectstore.PermissionDenied
	}
	return &objectstore.Error{Kind: kind, Store: driverName, Path: path.String(), Detail: err}
}

func metaFromFileInfo(path objectstore.Path, fi fs.FileInfo) objectstore.ObjectMeta {
	return objectstore.ObjectMeta{
		Path:         path,
		Size:         fi.Size(),
		LastModified: fi.ModTime().UTC(),
		// The filesystem has no native version token; modification time
		// and size stand in, the way HTTP file servers derive etags.
		ETag: fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size()),
	}
}

// writeAtomically streams r into a temp file next to the destination and
// renames it into place. On any failure the temp file is removed and
// nothing becomes visible.
func (d *driver) writeAtomically(path objectstore.Path, r io.Reader) (objectstore.ObjectMeta, error) {
	fullPath := d.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return objectstore.ObjectMeta{}, d.mapError(path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-"+filepath.Base(fullPath)+"-*")
	if err != nil {
		return objectstore.ObjectMeta{}, d.mapError(path, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return objectstore.ObjectMeta{}, d.mapError(path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return objectstore.ObjectMeta{}, d.mapError(path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return objectstore.ObjectMeta{}, d.mapError(path, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return objectstore.ObjectMeta{}, d.mapError(path, err)
	}

	fi, err := os.Stat(fullPath)
	if err != nil {
		return objectstore.ObjectMeta{}, d.mapError(path, err)
	}
	return metaFromFileInfo(path, fi), nil
}

func (d *driver) Put(ctx context.Context, path objectstore.Path, content []byte) (objectstore.ObjectMeta, error) {
	return d.writeAtomically(path, bytes.NewReader(content))
}

func (d *driver) PutStream(ctx context.Context, path objectstore.Path, r io.Reader, sizeHint int64) (objectstore.ObjectMeta, error) {
	return d.writeAtomically(path, r)
}

func (d *driver) Get(ctx context.Context, path objectstore.Path) (*objectstore.GetResult, error) {
	file, err := os.Open(d.fullPath(path))
	if err != nil {
		return nil, d.mapError(path, err)
	}
	fi, err := file.Stat()
	if err != nil || fi.IsDir() {
		file.Close()
		if err == nil {
			return nil, &objectstore.Error{Kind: objectstore.NotFound, Store: driverName, Path: path.String()}
		}
		return nil, d.mapError(path, err)
	}
	return &objectstore.GetResult{Meta: metaFromFileInfo(path, fi), Body: file}, nil
}

func (d *driver) GetRange(ctx context.Context, path objectstore.Path, rng objectstore.Range) (*objectstore.GetResult, error) {
	file, err := os.Open(d.fullPath(path))
	if err != nil {
		return nil, d.mapError(path, err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, d.mapError(path, err)
	}
	if rng.Start >= fi.Size() {
		file.Close()
		return nil, &objectstore.Error{
			Kind:   objectstore.InvalidRange,
			Store:  driverName,
			Path:   path.String(),
			Detail: fmt.Errorf("range %s outside object of %d bytes", rng, fi.Size()),
		}
	}
	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		file.Close()
		return nil, d.mapError(path, err)
	}
	end := rng.End
	if end > fi.Size() {
		end = fi.Size()
	}
	meta := metaFromFileInfo(path, fi)
	meta.Size = end - rng.Start
	return &objectstore.GetResult{
		Meta: meta,
		Body: &limitedFile{Reader: io.LimitReader(file, end-rng.Start), file: file},
	}, nil
}

// limitedFile bounds reads to the requested range while closing the
// underlying file.
type limitedFile struct {
	io.Reader
	file *os.File
}

func (l *limitedFile) Close() error { return l.file.Close() }

func (d *driver) Head(ctx context.Context, path objectstore.Path) (objectstore.ObjectMeta, error) {
	fi, err := os.Stat(d.fullPath(path))
	if err != nil {
		return objectstore.ObjectMeta{}, d.mapError(path, err)
	}
	if fi.IsDir() {
		return objectstore.ObjectMeta{}, &objectstore.Error{Kind: objectstore.NotFound, Store: driverName, Path: path.String()}
	}
	return metaFromFileInfo(path, fi), nil
}

// Delete removes the object and prunes directories left empty, so that
// delimiter listings never surface phantom prefixes.
func (d *driver) Delete(ctx context.Context, path objectstore.Path) error {
	err := os.Remove(d.fullPath(path))
	if err != nil && !os.IsNotExist(err) {
		// A directory at the target means no object is stored under this
		// exact path, only under longer ones; absence is success.
		if fi, serr := os.Stat(d.fullPath(path)); serr == nil && fi.IsDir() {
			return nil
		}
		return d.mapError(path, err)
	}

	dir := filepath.Dir(d.fullPath(path))
	for dir != filepath.Clean(d.rootDirectory) {
		// Remove fails on non-empty directories, which ends the climb.
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// listKeys walks the tree below prefix and returns the matching keys in
// lexicographic order. The walk is materialized: local directory listings
// have no continuation cursor to resume from.
func (d *driver) listKeys(prefix objectstore.Path) ([]string, error) {
	root := d.rootDirectory
	var keys []string
	err := filepath.WalkDir(root, func(hostPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(root, hostPath)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if objectstore.UnderPrefix(key, prefix.String()) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, d.mapError(prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *driver) List(ctx context.Context, prefix objectstore.Path) *objectstore.ListIterator {
	var keys []string
	walked := false
	return objectstore.NewListIterator(ctx, func(ctx context.Context, token string) ([]objectstore.ObjectMeta, string, error) {
		if !walked {
			var err error
			keys, err = d.listKeys(prefix)
			if err != nil {
				return nil, "", err
			}
			walked = true
		}

		start := 0
		if token != "" {
			start = sort.SearchStrings(keys, token)
			if start < len(keys) && keys[start] == token {
				start++
			}
		}
		end := start + listPageSize
		if end > len(keys) {
			end = len(keys)
		}

		metas := make([]objectstore.ObjectMeta, 0, end-start)
		for _, key := range keys[start:end] {
			p, err := objectstore.ParsePath(key)
			if err != nil {
				continue
			}
			fi, err := os.Stat(d.fullPath(p))
			if err != nil {
				// Deleted between walk and stat; skip.
				continue
			}
			metas = append(metas, metaFromFileInfo(p, fi))
		}

		next := ""
		if end < len(keys) {
			next = keys[end-1]
		}
		return metas, next, nil
	})
}

func (d *driver) ListWithDelimiter(ctx context.Context, prefix objectstore.Path) (*objectstore.ListResult, error) {
	keys, err := d.listKeys(prefix)
	if err != nil {
		return nil, err
	}

	dirPrefix := prefix.String()
	if dirPrefix != "" {
		dirPrefix += "/"
	}

	result := &objectstore.ListResult{}
	seen := make(map[string]bool)
	for _, key := range keys {
		rel := strings.TrimPrefix(key, dirPrefix)
		if i := strings.Index(rel, "/"); i >= 0 {
			group := dirPrefix + rel[:i]
			if !seen[group] {
				seen[group] = true
				p, perr := objectstore.ParsePath(group)
				if perr == nil {
					result.CommonPrefixes = append(result.CommonPrefixes, p)
				}
			}
			continue
		}
		p, perr := objectstore.ParsePath(key)
		if perr != nil {
			continue
		}
		fi, serr := os.Stat(d.fullPath(p))
		if serr != nil {
			continue
		}
		result.Objects = append(result.Objects, metaFromFileInfo(p, fi))
	}
	return result, nil
}

func (d *driver) Copy(ctx context.Context, src, dst objectstore.Path) error {
	file, err := os.Open(d.fullPath(src))
	if err != nil {
		return d.mapError(src, err)
	}
	defer file.Close()
	_, err = d.writeAtomically(dst, file)
	return err
}

// Rename uses the host's atomic rename. This backend documents the move as
// atomic; the generic contract does not.
func (d *driver) Rename(ctx context.Context, src, dst objectstore.Path) error {
	srcPath := d.fullPath(src)
	if _, err := os.Stat(srcPath); err != nil {
		return d.mapError(src, err)
	}
	dstPath := d.fullPath(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return d.mapError(dst, err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return d.mapError(src, err)
	}
	return nil
}
