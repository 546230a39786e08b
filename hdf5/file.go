package hdf5

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/nisar-gcov/streamer/bytesource"
	"github.com/nisar-gcov/streamer/internal/binary"
	"github.com/nisar-gcov/streamer/internal/object"
	"github.com/nisar-gcov/streamer/internal/superblock"
)

// File represents an open HDF5 file. It reads metadata (object headers,
// dataspace/datatype/layout messages, small chunk indices) from a prefetched
// prefix of the underlying source; anything that falls outside that prefix
// is fetched live and transparently through sourceReaderAt. Bulk chunk data
// is never read through File directly — see package chunkio.
type File struct {
	path string // local path, URL, or "s3://bucket/key", for diagnostics and relative link resolution
	src  bytesource.Source
	ctx  context.Context

	reader     *binary.Reader
	srcReader  *sourceReaderAt
	superblock *superblock.Superblock
	logger     *zap.Logger

	root          *Group
	closed        bool
	isLocal       bool
	externalFiles map[string]*File // cache of opened external files
}

// Open opens a local HDF5 file for reading. WithMmap requests a read-only
// memory mapping in place of pread for every subsequent access.
func Open(path string, opts ...OpenOption) (*File, error) {
	src, err := bytesource.OpenLocalFile(path)
	if err != nil {
		return nil, err
	}

	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.mmap {
		if err := src.EnableMmap(); err != nil {
			src.Close()
			return nil, fmt.Errorf("enabling mmap: %w", err)
		}
	}

	f, err := openFromSource(context.Background(), src, path, true, opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	return f, nil
}

// OpenHTTP opens a remote HDF5 file served over HTTPS with byte-range GET
// support. url must already be fully resolved (pre-signed if required).
func OpenHTTP(ctx context.Context, url string, opts ...OpenOption) (*File, error) {
	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(o)
	}
	src := bytesource.NewHTTPResource(url, o.httpClient)
	return openFromSource(ctx, src, url, false, opts...)
}

// OpenS3 opens an HDF5 object stored in S3 (or an S3-compatible store).
func OpenS3(ctx context.Context, client *s3.Client, bucket, key string, opts ...OpenOption) (*File, error) {
	src := bytesource.NewS3Resource(client, bucket, key)
	return openFromSource(ctx, src, fmt.Sprintf("s3://%s/%s", bucket, key), false, opts...)
}

// OpenSource opens an HDF5 file backed by a caller-supplied bytesource.Source.
// This is the general entry point used when neither Open, OpenHTTP nor
// OpenS3 fits (e.g. a custom cache-fronted source).
func OpenSource(ctx context.Context, src bytesource.Source, displayPath string, opts ...OpenOption) (*File, error) {
	return openFromSource(ctx, src, displayPath, false, opts...)
}

func openFromSource(ctx context.Context, src bytesource.Source, displayPath string, isLocal bool, opts ...OpenOption) (*File, error) {
	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(o)
	}

	size, err := src.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("determining size: %w", err)
	}

	prefetchN := o.prefetchBytes
	if prefetchN > size {
		prefetchN = size
	}
	buf, err := src.Read(ctx, 0, prefetchN)
	if err != nil {
		return nil, fmt.Errorf("prefetching metadata: %w", err)
	}
	o.logger.Debug("opened source", zap.String("path", displayPath), zap.Int64("size", size), zap.Int64("prefetched", prefetchN))

	srcReader := newSourceReaderAt(ctx, src, buf, o.logger)

	sb, err := superblock.Read(srcReader)
	if err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}

	reader := binary.NewReader(srcReader, sb.ReaderConfig())

	f := &File{
		path:       displayPath,
		src:        src,
		ctx:        ctx,
		reader:     reader,
		srcReader:  srcReader,
		superblock: sb,
		logger:     o.logger,
		isLocal:    isLocal,
	}

	root, err := f.openGroupAt(sb.RootGroupAddress, "/")
	if err != nil {
		return nil, fmt.Errorf("opening root group: %w", err)
	}
	f.root = root

	return f, nil
}

// Close closes the HDF5 file and all opened external files.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	for _, extFile := range f.externalFiles {
		extFile.Close()
	}
	f.externalFiles = nil

	return f.src.Close()
}

// Root returns the root group of the file.
func (f *File) Root() *Group {
	return f.root
}

// Path returns the file path, URL, or S3 key used to open this file.
func (f *File) Path() string {
	return f.path
}

// Version returns the superblock version.
func (f *File) Version() int {
	return int(f.superblock.Version)
}

// Source returns the underlying byte source, for components (chunkio,
// region) that need direct access for bulk chunk reads.
func (f *File) Source() bytesource.Source {
	return f.src
}

// OpenGroup opens a group by path.
func (f *File) OpenGroup(path string) (*Group, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.root.OpenGroup(path)
}

// OpenDataset opens a dataset by path.
func (f *File) OpenDataset(path string) (*Dataset, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.root.OpenDataset(path)
}

// openGroupAt opens a group at the given address.
func (f *File) openGroupAt(address uint64, path string) (*Group, error) {
	header, err := object.Read(f.reader, address)
	if err != nil {
		return nil, fmt.Errorf("reading object header: %w", err)
	}

	return &Group{
		file:   f,
		path:   path,
		header: header,
	}, nil
}

// openDatasetAt opens a dataset at the given address.
func (f *File) openDatasetAt(address uint64, path string) (*Dataset, error) {
	header, err := object.Read(f.reader, address)
	if err != nil {
		return nil, fmt.Errorf("reading object header: %w", err)
	}

	return newDataset(f, path, header)
}

// normalizePath normalizes a path, handling leading/trailing slashes.
func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	return path
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	path = normalizePath(path)
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// GetAttr returns an attribute by path.
// Path format: /group/object@attribute_name
//
// Examples:
//   - "/@root_attr" - attribute on root group
//   - "/data@units" - attribute on dataset 'data'
//   - "/sensors/temp@calibration" - attribute on nested dataset
func (f *File) GetAttr(path string) (*Attribute, error) {
	if f.closed {
		return nil, ErrClosed
	}

	objectPath, attrName, err := ParseAttrPath(path)
	if err != nil {
		return nil, err
	}

	obj, err := f.getAttributeHolder(objectPath)
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", objectPath, err)
	}

	attr := obj.Attr(attrName)
	if attr == nil {
		return nil, fmt.Errorf("attribute not found: %s", attrName)
	}
	return attr, nil
}

// ReadAttr reads an attribute value by path.
//
//	val, err := f.ReadAttr("/@version")
//	val, err := f.ReadAttr("/dataset@units")
func (f *File) ReadAttr(path string) (interface{}, error) {
	attr, err := f.GetAttr(path)
	if err != nil {
		return nil, err
	}
	return attr.Value()
}

// attributeHolder is an interface for objects that can have attributes.
type attributeHolder interface {
	Attr(name string) *Attribute
}

// getAttributeHolder returns the group or dataset at the given path.
func (f *File) getAttributeHolder(path string) (attributeHolder, error) {
	if path == "/" {
		return f.root, nil
	}

	group, err := f.OpenGroup(path)
	if err == nil {
		return group, nil
	}

	dataset, err := f.OpenDataset(path)
	if err == nil {
		return dataset, nil
	}

	return nil, fmt.Errorf("object not found: %s", path)
}

// findByAbsolutePath navigates an absolute path and returns the target's address.
// This is used for resolving soft links. The visited map tracks paths to detect cycles.
func (f *File) findByAbsolutePath(absPath string, visited map[string]bool) (uint64, bool, error) {
	res, err := f.findByAbsolutePathFull(absPath, visited)
	if err != nil {
		return 0, false, err
	}
	return res.address, res.isDataset, nil
}

// findByAbsolutePathFull navigates an absolute path and returns the full resolution info.
// This handles cases where the target is in an external file.
func (f *File) findByAbsolutePathFull(absPath string, visited map[string]bool) (*linkResolution, error) {
	parts := splitPath(absPath)
	if len(parts) == 0 {
		return &linkResolution{
			address:   f.superblock.RootGroupAddress,
			isDataset: false,
			file:      nil,
		}, nil
	}

	current := f.root
	currentFile := f

	for i, name := range parts {
		res, err := current.findChildFull(name, visited)
		if err != nil {
			return nil, fmt.Errorf("resolving %q in path %s: %w", name, absPath, err)
		}

		if res.file != nil {
			currentFile = res.file
		}

		if i == len(parts)-1 {
			return res, nil
		}

		if res.isDataset {
			return nil, fmt.Errorf("%q is not a group in path %s", name, absPath)
		}

		nextGroup, err := currentFile.openGroupAt(res.address, "")
		if err != nil {
			return nil, fmt.Errorf("opening group %q: %w", name, err)
		}
		current = nextGroup
	}

	return nil, fmt.Errorf("empty path")
}

// openExternalFile opens an external file by name, relative to the current
// file's directory. Only supported when this file was opened locally: a
// remote (HTTP/S3) source has no well-defined "directory" to resolve
// sibling filenames against.
func (f *File) openExternalFile(filename string) (*File, error) {
	if !f.isLocal {
		return nil, fmt.Errorf("%w: external links are not supported for remote sources", ErrUnsupported)
	}

	if f.externalFiles != nil {
		if extFile, ok := f.externalFiles[filename]; ok {
			return extFile, nil
		}
	}

	baseDir := filepath.Dir(f.path)
	extPath := filepath.Join(baseDir, filename)

	extFile, err := Open(extPath, WithLogger(f.logger))
	if err != nil {
		return nil, fmt.Errorf("opening external file %q: %w", extPath, err)
	}

	if f.externalFiles == nil {
		f.externalFiles = make(map[string]*File)
	}
	f.externalFiles[filename] = extFile

	return extFile, nil
}

// resolveExternalLink resolves an external link and returns the target's address and file.
// The visited map tracks paths to detect cycles across files.
func (f *File) resolveExternalLink(extFile string, extPath string, visited map[string]bool) (uint64, bool, *File, error) {
	if len(visited) >= MaxLinkDepth {
		return 0, false, nil, ErrLinkDepth
	}

	linkKey := extFile + ":" + extPath
	if visited[linkKey] {
		return 0, false, nil, fmt.Errorf("circular external link detected: %s", linkKey)
	}
	visited[linkKey] = true

	targetFile, err := f.openExternalFile(extFile)
	if err != nil {
		return 0, false, nil, err
	}

	addr, isDataset, err := targetFile.findByAbsolutePath(extPath, visited)
	if err != nil {
		return 0, false, nil, fmt.Errorf("resolving path %q in external file %q: %w", extPath, extFile, err)
	}

	return addr, isDataset, targetFile, nil
}
