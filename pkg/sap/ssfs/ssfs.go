// Package ssfs implements the SAP Secure Storage in File System formats:
// the lock file, the key file and the data file of records.
package ssfs

import (
	"errors"
	"fmt"
	"strings"

	"firestige.xyz/sapcraft/pkg/packet"
)

// Sizes of the fixed parts of the formats.
const (
	KeyFileSize      = 0x5c
	RecordHeaderSize = 24
	DataHeaderSize   = 152
	RecordOverhead   = RecordHeaderSize + DataHeaderSize
)

var (
	// ErrNotPlaintext is returned for the value of an encrypted record.
	ErrNotPlaintext = errors.New("ssfs: record is not stored as plaintext")
	// ErrNoRecord is returned when no record has the requested key name.
	ErrNoRecord = errors.New("ssfs: no record with that key name")
)

func padded(name string, n int) packet.Field {
	return packet.Field{Name: name, Type: packet.PaddedString(' '), Length: packet.Fixed(n)}
}

func blob(name string, n int) packet.Field {
	return packet.Field{Name: name, Type: packet.Bytes, Length: packet.Fixed(n), Default: make([]byte, n)}
}

// Lock is the content of the SSFS lock file.
var Lock = packet.MustDefine("SAPSSFSLock", []packet.Field{
	{Name: "preamble", Type: packet.String, Length: packet.Fixed(12), Default: "RSecSSFsLock"},
	{Name: "file_type", Type: packet.U8},
	{Name: "type", Type: packet.U8},
	blob("timestamp", 8),
	padded("user", 24),
	padded("host", 24),
})

// Key is the content of the SSFS key file.
var Key = packet.MustDefine("SAPSSFSKey", []packet.Field{
	{Name: "preamble", Type: packet.String, Length: packet.Fixed(11), Default: "RSecSSFsKey"},
	{Name: "type", Type: packet.U8, Default: 1},
	blob("key", 24),
	blob("timestamp", 8),
	padded("user", 24),
	padded("host", 24),
})

// DataRecord is one record of the data file: a record header, a data header
// and the value. length covers all three.
var DataRecord = packet.MustDefine("SAPSSFSDataRecord", []packet.Field{
	{Name: "preamble", Type: packet.String, Length: packet.Fixed(12), Default: "RSecSSFsData"},
	{Name: "length", Type: packet.U32, Derive: packet.LayerLength(0)},
	{Name: "type", Type: packet.U8, Default: 1},
	blob("filler1", 7),

	padded("key_name", 64),
	blob("timestamp", 8),
	padded("user", 24),
	padded("host", 24),
	{Name: "is_deleted", Type: packet.Bool},
	{Name: "is_stored_as_plaintext", Type: packet.Bool},
	{Name: "is_binary_data", Type: packet.Bool},
	blob("filler2", 9),
	blob("hmac", 20),

	{Name: "data", Type: packet.Bytes, Length: packet.FromField("length", -RecordOverhead)},
})

// Data is the content of the SSFS data file.
var Data = packet.MustDefine("SAPSSFSData", []packet.Field{
	{Name: "records", Type: packet.LayerList(DataRecord)},
})

func init() {
	packet.MustRegister(Lock, Key, DataRecord, Data)
}

// NewRecord returns a plaintext record holding value under keyName.
func NewRecord(keyName string, value []byte, binary bool) *packet.Layer {
	return packet.New(DataRecord).
		With("key_name", keyName).
		With("is_stored_as_plaintext", true).
		With("is_binary_data", binary).
		With("data", value)
}

// NewData returns a data file holding records.
func NewData(records ...*packet.Layer) *packet.Layer {
	return packet.New(Data).With("records", records)
}

// Parse decodes a data file.
func Parse(b []byte) (*packet.Layer, error) {
	return packet.Dissect(b, Data)
}

// Record returns the first record of a data file whose key name, with
// trailing spaces removed, is keyName.
func Record(data *packet.Layer, keyName string) *packet.Layer {
	for _, r := range data.List("records") {
		if strings.TrimRight(r.Str("key_name"), " ") == keyName {
			return r
		}
	}
	return nil
}

// HasRecord reports whether a data file holds a record named keyName.
func HasRecord(data *packet.Layer, keyName string) bool {
	return Record(data, keyName) != nil
}

// Value returns the value of a plaintext record.
func Value(data *packet.Layer, keyName string) ([]byte, error) {
	r := Record(data, keyName)
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoRecord, keyName)
	}
	return PlainData(r)
}

// PlainData returns the value of a record stored as plaintext.
func PlainData(record *packet.Layer) ([]byte, error) {
	if !record.Bool("is_stored_as_plaintext") {
		return nil, fmt.Errorf("%w: %q", ErrNotPlaintext, strings.TrimRight(record.Str("key_name"), " "))
	}
	return record.Bytes("data"), nil
}

// KeyNames lists the key names of a data file in file order.
func KeyNames(data *packet.Layer) []string {
	records := data.List("records")
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, strings.TrimRight(r.Str("key_name"), " "))
	}
	return out
}
