package calendar

import (
	"errors"
	"time"

	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/rs/zerolog"
)

// DateFormat is the calendar's date key layout
const DateFormat = "2006-01-02"

// Calendar answers whether scaling is frozen for a cluster on a date
type Calendar struct {
	store  storage.Store
	logger zerolog.Logger
}

// New creates an exception calendar over the persisted entries
func New(store storage.Store) *Calendar {
	return &Calendar{
		store:  store,
		logger: log.WithComponent("calendar"),
	}
}

// Suppressed reports whether the cluster is excluded on the given date
func (c *Calendar) Suppressed(date time.Time, clusterID string) (bool, error) {
	key := date.Format(DateFormat)
	entry, err := c.store.GetException(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if entry.Covers(clusterID) {
		c.logger.Info().
			Str("cluster_id", clusterID).
			Str("date", key).
			Msg("Cluster is listed as an exception for this date")
		return true, nil
	}
	return false, nil
}

// Put records or replaces the entry for a date
func (c *Calendar) Put(entry *types.ExceptionEntry) error {
	return c.store.PutException(entry)
}
