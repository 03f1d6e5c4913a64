package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tidefs/tidegate/pkg/tide"
)

// Node records and the volume record are JSON: they are small, the schema
// can grow fields without migrations, and the database stays inspectable.
// Counters and dirent values are raw big-endian integers.

// nodeRecord is the persistent form of one filesystem object.
type nodeRecord struct {
	Ino   uint64 `json:"ino"`
	Gen   uint64 `json:"gen"`
	Mode  uint32 `json:"mode"`
	NLink uint32 `json:"nlink"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
	RDev  uint64 `json:"rdev,omitempty"`
	Size  uint64 `json:"size"`

	Parent uint64 `json:"parent"`

	ATime time.Time `json:"atime"`
	MTime time.Time `json:"mtime"`
	CTime time.Time `json:"ctime"`

	// Unlinked marks a node removed from its directory while still open
	// or pinned. It lingers anonymously until the last close or release,
	// or until the orphan sweep at the next volume open.
	Unlinked bool `json:"unlinked,omitempty"`
}

func (r *nodeRecord) isDir() bool {
	return r.Mode&tide.ModeTypeMask == tide.ModeDir
}

func (r *nodeRecord) isRegular() bool {
	return r.Mode&tide.ModeTypeMask == tide.ModeRegular
}

func (r *nodeRecord) stat(dev uint64) tide.Stat {
	return tide.Stat{
		Dev:    dev,
		Ino:    r.Ino,
		Mode:   r.Mode,
		NLink:  r.NLink,
		UID:    r.UID,
		GID:    r.GID,
		RDev:   r.RDev,
		Size:   r.Size,
		Blocks: (r.Size + 511) / 512,
		ATime:  r.ATime,
		MTime:  r.MTime,
		CTime:  r.CTime,
	}
}

func encodeNode(r *nodeRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node record: %w", err)
	}
	return data, nil
}

func decodeNode(data []byte) (*nodeRecord, error) {
	var r nodeRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode node record: %w", err)
	}
	return &r, nil
}

// volumeRecord is the singleton identity record of one volume, written
// the first time a MountSpec is opened.
type volumeRecord struct {
	Volume    uuid.UUID `json:"volume"`
	Pool      uuid.UUID `json:"pool"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func encodeVolume(v *volumeRecord) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode volume record: %w", err)
	}
	return data, nil
}

func decodeVolume(data []byte) (*volumeRecord, error) {
	var v volumeRecord
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode volume record: %w", err)
	}
	return &v, nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 value length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
