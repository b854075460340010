package ledger

import (
	"context"
	"strconv"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
)

const defaultPageSize = 50

// Iterator walks a user's ledger newest first, fetching a page at a time
type Iterator struct {
	store  Store
	userID string
	before int64
	size   int
	page   []models.TransactionRecord
	cur    models.TransactionRecord
	done   bool
	err    error
}

// Next advances to the next record, fetching lazily
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if len(it.page) == 0 {
		size := it.size
		if size <= 0 {
			size = defaultPageSize
		}
		page, err := it.store.Page(ctx, it.userID, it.before, size)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		it.page = page
	}

	it.cur = it.page[0]
	it.page = it.page[1:]
	it.before = it.cur.ID
	return true
}

// Record returns the current record
func (it *Iterator) Record() models.TransactionRecord {
	return it.cur
}

// Err returns the error that stopped iteration, if any
func (it *Iterator) Err() error {
	return it.err
}

// Cursor resumes iteration right after the current record
func (it *Iterator) Cursor() string {
	if it.before == 0 {
		return ""
	}
	return strconv.FormatInt(it.before, 10)
}
