package inventory

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBLog is the durable precommit log spec.md section 4.E/9
// requires: one record per (reservation#, serialized reservation),
// written exclusively by precommit_reservation and read back on restart.
// Grounded on the teacher's dependency surface via dolthub-dolt's use of
// github.com/syndtr/goleveldb as an embedded key-value store.
type LevelDBLog struct {
	db *leveldb.DB
}

// OpenLevelDBLog opens (creating if absent) a goleveldb database at dir
// to back the precommit log.
func OpenLevelDBLog(dir string) (*LevelDBLog, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "inventory: open precommit log at %s", dir)
	}
	return &LevelDBLog{db: db}, nil
}

// Append writes one reservation record keyed by its reservation number.
func (l *LevelDBLog) Append(r Reservation) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "inventory: marshal reservation")
	}
	if err := l.db.Put(keyFor(r.ID), payload, nil); err != nil {
		return errors.Wrap(err, "inventory: write precommit record")
	}
	return nil
}

// LoadAll reads every record currently in the log, used by Inventory.Recover
// on participant restart.
func (l *LevelDBLog) LoadAll() (map[int]Reservation, error) {
	out := make(map[int]Reservation)
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		id, err := idFromKey(iter.Key())
		if err != nil {
			continue
		}
		var r Reservation
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, errors.Wrapf(err, "inventory: unmarshal precommit record %d", id)
		}
		out[id] = r
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "inventory: iterate precommit log")
	}
	return out, nil
}

// Close releases the underlying database handle.
func (l *LevelDBLog) Close() error {
	return l.db.Close()
}

func keyFor(id int) []byte {
	return []byte(strconv.Itoa(id))
}

func idFromKey(key []byte) (int, error) {
	return strconv.Atoi(string(key))
}
