// Package wire converts cache entries to and from the flat field map stored
// under one backend key per entry.
package wire

import (
	"strconv"
	"strings"
)

// Field names of the stored map.
const (
	FieldCID        = "cid"
	FieldData       = "data"
	FieldSerialized = "serialized"
	FieldCreated    = "created"
	FieldExpire     = "expire"
	FieldValid      = "valid"
	FieldChecksum   = "checksum"
	FieldTags       = "tags"
)

// Stored boolean literals.
const (
	True  = "1"
	False = "0"
)

// tagSeparator joins the tag list into a single stored field. Tags must not
// contain it.
const tagSeparator = " "

// Record is the typed form of a stored entry. Data is the stored payload;
// whether it needs the value codec is carried by Serialized.
type Record struct {
	CID        string
	Data       []byte
	Serialized bool
	Created    float64 // unix seconds, millisecond precision
	Expire     int64   // unix seconds, or -1 for no expiry
	Valid      bool
	Checksum   string
	Tags       []string
}

// EncodeFields flattens r into the stored field map.
// Empty tags or tags containing the separator are a programmer error and panic.
func EncodeFields(r Record) map[string]string {
	for _, t := range r.Tags {
		if t == "" || strings.Contains(t, tagSeparator) {
			panic("wire: invalid tag " + strconv.Quote(t))
		}
	}
	return map[string]string{
		FieldCID:        r.CID,
		FieldData:       string(r.Data),
		FieldSerialized: boolField(r.Serialized),
		FieldCreated:    strconv.FormatFloat(r.Created, 'f', 3, 64),
		FieldExpire:     strconv.FormatInt(r.Expire, 10),
		FieldValid:      boolField(r.Valid),
		FieldChecksum:   r.Checksum,
		FieldTags:       strings.Join(r.Tags, tagSeparator),
	}
}

// DecodeFields parses a stored field map. ok is false when the map does not
// describe an entry (no cid) or a numeric field is malformed; such records
// are treated as absent, never as errors.
func DecodeFields(f map[string]string) (Record, bool) {
	cid := f[FieldCID]
	if cid == "" {
		return Record{}, false
	}
	created, err := strconv.ParseFloat(f[FieldCreated], 64)
	if err != nil {
		return Record{}, false
	}
	expire, err := strconv.ParseInt(f[FieldExpire], 10, 64)
	if err != nil {
		return Record{}, false
	}
	var tags []string
	if s := f[FieldTags]; s != "" {
		tags = strings.Split(s, tagSeparator)
	}
	return Record{
		CID:        cid,
		Data:       []byte(f[FieldData]),
		Serialized: f[FieldSerialized] == True,
		Created:    created,
		Expire:     expire,
		Valid:      f[FieldValid] == True,
		Checksum:   f[FieldChecksum],
		Tags:       tags,
	}, true
}

func boolField(b bool) string {
	if b {
		return True
	}
	return False
}
