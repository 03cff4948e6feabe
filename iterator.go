package objectstore

import (
	"context"
	"errors"
)

// Done is returned by ListIterator.Next when the listing is exhausted. It
// is not an error condition.
var Done = errors.New("objectstore: no more objects")

// PageFunc fetches one page of a listing. token is the opaque continuation
// cursor from the previous page, empty for the first page. It returns the
// page entries, the cursor for the next page (empty when this was the last
// page), and any error, already mapped into the taxonomy.
type PageFunc func(ctx context.Context, token string) ([]ObjectMeta, string, error)

// ListIterator lazily yields ObjectMeta entries, pulling backend pages on
// demand so that callers never see continuation tokens. It is not safe for
// concurrent use and not restartable; issue a new List call to re-iterate.
type ListIterator struct {
	ctx   context.Context
	fetch PageFunc

	page  []ObjectMeta
	token string
	last  bool // no further pages after the buffered one
	err   error
}

// NewListIterator builds an iterator over fetch. Backend adapters call
// this from their List implementations.
func NewListIterator(ctx context.Context, fetch PageFunc) *ListIterator {
	return &ListIterator{ctx: ctx, fetch: fetch}
}

// Next returns the next entry. It returns Done once the listing is
// exhausted, and a taxonomy error if a page fetch fails; after a failure
// every subsequent call returns the same error.
func (it *ListIterator) Next() (ObjectMeta, error) {
	if it.err != nil {
		return ObjectMeta{}, it.err
	}

	for len(it.page) == 0 {
		if it.last {
			it.err = Done
			return ObjectMeta{}, Done
		}
		page, next, err := it.fetch(it.ctx, it.token)
		if err != nil {
			it.err = err
			return ObjectMeta{}, err
		}
		it.page = page
		it.token = next
		it.last = next == ""
	}

	meta := it.page[0]
	it.page = it.page[1:]
	return meta, nil
}

// Collect drains the iterator into a slice. It should primarily be used
// for listings known to be small, and in tests.
func (it *ListIterator) Collect() ([]ObjectMeta, error) {
	var metas []ObjectMeta
	for {
		meta, err := it.Next()
		if err == Done {
			return metas, nil
		}
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
}
