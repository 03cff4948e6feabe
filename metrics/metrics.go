// Package metrics wraps a Store with prometheus instrumentation.
package metrics

import (
	"context"
	"io"
	"time"

	"github.com/docker/go-metrics"

	objectstore "github.com/jeschkies/objectstore"
)

// NamespacePrefix is the namespace of prometheus metrics.
const NamespacePrefix = "objectstore"

// StorageNamespace is the prometheus namespace of store operations.
var StorageNamespace = metrics.NewNamespace(NamespacePrefix, "storage", nil)

type instrumentedStore struct {
	objectstore.Store
	latencyTimer metrics.LabeledTimer
	errCounter   metrics.LabeledCounter
}

// NewInstrumentedStore wraps a Store so every operation records its
// latency and failures under StorageNamespace, labelled by operation.
func NewInstrumentedStore(wrap objectstore.Store, name, help string) objectstore.Store {
	return &instrumentedStore{
		Store:        wrap,
		latencyTimer: StorageNamespace.NewLabeledTimer(name, help, "operation"),
		errCounter:   StorageNamespace.NewLabeledCounter(name+"_errors", help+" (failures)", "operation"),
	}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.latencyTimer.WithValues(op).UpdateSince(start)
	if err != nil {
		s.errCounter.WithValues(op).Inc(1)
	}
}

func (s *instrumentedStore) Put(ctx context.Context, path objectstore.Path, content []byte) (objectstore.ObjectMeta, error) {
	start := time.Now()
	meta, err := s.Store.Put(ctx, path, content)
	s.observe("Put", start, err)
	return meta, err
}

func (s *instrumentedStore) PutStream(ctx context.Context, path objectstore.Path, r io.Reader, sizeHint int64) (objectstore.ObjectMeta, error) {
	start := time.Now()
	meta, err := s.Store.PutStream(ctx, path, r, sizeHint)
	s.observe("PutStream", start, err)
	return meta, err
}

func (s *instrumentedStore) Get(ctx context.Context, path objectstore.Path) (*objectstore.GetResult, error) {
	start := time.Now()
	res, err := s.Store.Get(ctx, path)
	s.observe("Get", start, err)
	return res, err
}

func (s *instrumentedStore) GetRange(ctx context.Context, path objectstore.Path, rng objectstore.Range) (*objectstore.GetResult, error) {
	start := time.Now()
	res, err := s.Store.GetRange(ctx, path, rng)
	s.observe("GetRange", start, err)
	return res, err
}

func (s *instrumentedStore) Head(ctx context.Context, path objectstore.Path) (objectstore.ObjectMeta, error) {
	start := time.Now()
	meta, err := s.Store.Head(ctx, path)
	s.observe("Head", start, err)
	return meta, err
}

func (s *instrumentedStore) Delete(ctx context.Context, path objectstore.Path) error {
	start := time.Now()
	err := s.Store.Delete(ctx, path)
	s.observe("Delete", start, err)
	return err
}

func (s *instrumentedStore) ListWithDelimiter(ctx context.Context, prefix objectstore.Path) (*objectstore.ListResult, error) {
	start := time.Now()
	res, err := s.Store.ListWithDelimiter(ctx, prefix)
	s.observe("ListWithDelimiter", start, err)
	return res, err
}

func (s *instrumentedStore) Copy(ctx context.Context, src, dst objectstore.Path) error {
	start := time.Now()
	err := s.Store.Copy(ctx, src, dst)
	s.observe("Copy", start, err)
	return err
}

func (s *instrumentedStore) Rename(ctx context.Context, src, dst objectstore.Path) error {
	start := time.Now()
	err := s.Store.Rename(ctx, src, dst)
	s.observe("Rename", start, err)
	return err
}
