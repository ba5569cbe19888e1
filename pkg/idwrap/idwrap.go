package idwrap

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDWrap is the canonical record identifier: a ULID stored as a 16-byte blob.
type IDWrap struct {
	ulid ulid.ULID
}

func New(id ulid.ULID) IDWrap {
	return IDWrap{ulid: id}
}

func NewNow() IDWrap {
	return IDWrap{ulid: ulid.Make()}
}

func NewText(s string) (IDWrap, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return IDWrap{}, err
	}
	return IDWrap{ulid: id}, nil
}

func NewTextMust(s string) IDWrap {
	id, err := ulid.Parse(s)
	if err != nil {
		panic(err)
	}
	return IDWrap{ulid: id}
}

func NewFromBytes(data []byte) (IDWrap, error) {
	id := ulid.ULID{}
	err := id.UnmarshalBinary(data)
	return IDWrap{ulid: id}, err
}

func NewFromBytesMust(data []byte) IDWrap {
	id, err := NewFromBytes(data)
	if err != nil {
		panic(err)
	}
	return id
}

func (u IDWrap) String() string {
	return u.ulid.String()
}

func (u IDWrap) Bytes() []byte {
	return u.ulid[:]
}

func (u IDWrap) Compare(id IDWrap) int {
	return u.ulid.Compare(id.ulid)
}

func (u IDWrap) IsZero() bool {
	return u == IDWrap{}
}

// Time extracts the timestamp component of the ULID.
func (u IDWrap) Time() time.Time {
	return time.UnixMilli(int64(u.ulid.Time()))
}

// SQL driver value
func (u IDWrap) Value() (driver.Value, error) {
	return u.ulid.Value()
}

func (u *IDWrap) Scan(value any) error {
	data, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("idwrap: cannot scan %T", value)
	}
	return u.ulid.UnmarshalBinary(data)
}

// JSON: ULIDs travel as their 26-char text form.
func (u IDWrap) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.ulid.String() + `"`), nil
}

func (u *IDWrap) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("idwrap: invalid JSON id %q", data)
	}
	id, err := ulid.Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	u.ulid = id
	return nil
}
