package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/nimue-net/uruserver/internal/codec/netio"
)

// Field is one bit of the presence bitmap carried by every Node: a Node's
// Fields value says which of the generic typed slots below actually hold
// data, the rest are zero and omitted from the wire.
type Field uint64

const (
	FieldNodeID Field = 1 << iota
	FieldCreateTime
	FieldModifyTime
	FieldCreateAgeName
	FieldCreateAgeUUID
	FieldCreatorUUID
	FieldCreatorID
	FieldNodeType
	FieldInt32_1
	FieldInt32_2
	FieldInt32_3
	FieldInt32_4
	FieldUint32_1
	FieldUint32_2
	FieldUint32_3
	FieldUint32_4
	FieldUUID_1
	FieldUUID_2
	FieldUUID_3
	FieldUUID_4
	FieldString64_1
	FieldString64_2
	FieldString64_3
	FieldString64_4
	FieldString64_5
	FieldString64_6
	FieldIString64_1
	FieldIString64_2
	FieldText_1
	FieldText_2
	FieldBlob_1
	FieldBlob_2
)

// Node is the generic, typed-slot object that backs every vault entry:
// folders, player records, chronicle entries, SDL states, and so on are all
// the same struct with a NodeType discriminator and a different subset of
// fields populated. This mirrors the client's own VaultNode wire shape,
// which is why the fields are untyped "int32_N"/"string64_N" slots rather
// than named per-purpose members.
type Node struct {
	Fields Field

	NodeID        uint32
	CreateTime    uint32
	ModifyTime    uint32
	CreateAgeName string
	CreateAgeUUID uuid.UUID
	CreatorUUID   uuid.UUID
	CreatorID     uint32
	NodeType      int32
	Int32_1       int32
	Int32_2       int32
	Int32_3       int32
	Int32_4       int32
	Uint32_1      uint32
	Uint32_2      uint32
	Uint32_3      uint32
	Uint32_4      uint32
	UUID_1        uuid.UUID
	UUID_2        uuid.UUID
	UUID_3        uuid.UUID
	UUID_4        uuid.UUID
	String64_1    string
	String64_2    string
	String64_3    string
	String64_4    string
	String64_5    string
	String64_6    string
	IString64_1   string
	IString64_2   string
	Text_1        string
	Text_2        string
	Blob_1        []byte
	Blob_2        []byte
}

// NodeType values identify what role a Node plays in the graph. Values
// match the client's NetVaultNode::VaultNodeType enumeration.
type NodeType int32

const (
	NodeTypeInvalid        NodeType = 0
	NodeTypeVNodeMgrLow    NodeType = 1
	NodeTypePlayer         NodeType = 2
	NodeTypeAge            NodeType = 3
	NodeTypeFolder         NodeType = 22
	NodeTypePlayerInfo     NodeType = 23
	NodeTypeSystem         NodeType = 24
	NodeTypeImage          NodeType = 25
	NodeTypeTextNote       NodeType = 26
	NodeTypeSDL            NodeType = 27
	NodeTypeAgeLink        NodeType = 28
	NodeTypeChronicle      NodeType = 29
	NodeTypePlayerInfoList NodeType = 30
	NodeTypeMarker         NodeType = 32
	NodeTypeAgeInfo        NodeType = 33
	NodeTypeAgeInfoList    NodeType = 34
	NodeTypeMarkerList     NodeType = 35
)

// readVaultString reads a UTF-16 string whose wire length is the byte
// count of the code units plus the terminating nul, not the code unit
// count. This differs from the safe-string encoding used on connection
// handshakes and chat.
func readVaultString(r io.Reader) (string, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return "", fmt.Errorf("reading vault string size: %w", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size < 2 || size%2 != 0 {
		return "", fmt.Errorf("bad vault string size %d", size)
	}
	units := make([]uint16, (size-2)/2+1)
	for i := range units {
		var u [2]byte
		if _, err := io.ReadFull(r, u[:]); err != nil {
			return "", fmt.Errorf("reading vault string units: %w", err)
		}
		units[i] = binary.LittleEndian.Uint16(u[:])
	}
	nul := units[len(units)-1]
	if nul != 0 {
		return "", fmt.Errorf("vault string was not nul-terminated")
	}
	return netio.UTF16ToString(units[:len(units)-1]), nil
}

func writeVaultString(w io.Writer, s string) error {
	units := netio.StringToUTF16(s)
	size := uint32((len(units) + 1) * 2)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], size)
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return fmt.Errorf("writing vault string size: %w", err)
	}
	for _, u := range units {
		var ub [2]byte
		binary.LittleEndian.PutUint16(ub[:], u)
		if _, err := w.Write(ub[:]); err != nil {
			return fmt.Errorf("writing vault string unit: %w", err)
		}
	}
	var nul [2]byte
	_, err := w.Write(nul[:])
	return err
}

func readFieldU32(r io.Reader, fields, field Field) (uint32, error) {
	if fields&field == 0 {
		return 0, nil
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readFieldI32(r io.Reader, fields, field Field) (int32, error) {
	v, err := readFieldU32(r, fields, field)
	return int32(v), err
}

func readFieldUUID(r io.Reader, fields, field Field) (uuid.UUID, error) {
	if fields&field == 0 {
		return uuid.Nil, nil
	}
	return netio.ReadUUID(r)
}

func readFieldString(r io.Reader, fields, field Field) (string, error) {
	if fields&field == 0 {
		return "", nil
	}
	return readVaultString(r)
}

func readFieldBlob(r io.Reader, fields, field Field) ([]byte, error) {
	if fields&field == 0 {
		return nil, nil
	}
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, fmt.Errorf("reading blob size: %w", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	blob := make([]byte, size)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, fmt.Errorf("reading blob body: %w", err)
	}
	return blob, nil
}

// ReadNode decodes a Node from its presence bitmap followed by each present
// field in fixed declaration order.
func ReadNode(r io.Reader) (Node, error) {
	var fieldsBuf [8]byte
	if _, err := io.ReadFull(r, fieldsBuf[:]); err != nil {
		return Node{}, fmt.Errorf("reading node fields bitmap: %w", err)
	}
	fields := Field(binary.LittleEndian.Uint64(fieldsBuf[:]))

	var n Node
	var err error
	n.Fields = fields

	if n.NodeID, err = readFieldU32(r, fields, FieldNodeID); err != nil {
		return Node{}, err
	}
	if n.CreateTime, err = readFieldU32(r, fields, FieldCreateTime); err != nil {
		return Node{}, err
	}
	if n.ModifyTime, err = readFieldU32(r, fields, FieldModifyTime); err != nil {
		return Node{}, err
	}
	if n.CreateAgeName, err = readFieldString(r, fields, FieldCreateAgeName); err != nil {
		return Node{}, err
	}
	if n.CreateAgeUUID, err = readFieldUUID(r, fields, FieldCreateAgeUUID); err != nil {
		return Node{}, err
	}
	if n.CreatorUUID, err = readFieldUUID(r, fields, FieldCreatorUUID); err != nil {
		return Node{}, err
	}
	if n.CreatorID, err = readFieldU32(r, fields, FieldCreatorID); err != nil {
		return Node{}, err
	}
	if n.NodeType, err = readFieldI32(r, fields, FieldNodeType); err != nil {
		return Node{}, err
	}
	if n.Int32_1, err = readFieldI32(r, fields, FieldInt32_1); err != nil {
		return Node{}, err
	}
	if n.Int32_2, err = readFieldI32(r, fields, FieldInt32_2); err != nil {
		return Node{}, err
	}
	if n.Int32_3, err = readFieldI32(r, fields, FieldInt32_3); err != nil {
		return Node{}, err
	}
	if n.Int32_4, err = readFieldI32(r, fields, FieldInt32_4); err != nil {
		return Node{}, err
	}
	if n.Uint32_1, err = readFieldU32(r, fields, FieldUint32_1); err != nil {
		return Node{}, err
	}
	if n.Uint32_2, err = readFieldU32(r, fields, FieldUint32_2); err != nil {
		return Node{}, err
	}
	if n.Uint32_3, err = readFieldU32(r, fields, FieldUint32_3); err != nil {
		return Node{}, err
	}
	if n.Uint32_4, err = readFieldU32(r, fields, FieldUint32_4); err != nil {
		return Node{}, err
	}
	if n.UUID_1, err = readFieldUUID(r, fields, FieldUUID_1); err != nil {
		return Node{}, err
	}
	if n.UUID_2, err = readFieldUUID(r, fields, FieldUUID_2); err != nil {
		return Node{}, err
	}
	if n.UUID_3, err = readFieldUUID(r, fields, FieldUUID_3); err != nil {
		return Node{}, err
	}
	if n.UUID_4, err = readFieldUUID(r, fields, FieldUUID_4); err != nil {
		return Node{}, err
	}
	if n.String64_1, err = readFieldString(r, fields, FieldString64_1); err != nil {
		return Node{}, err
	}
	if n.String64_2, err = readFieldString(r, fields, FieldString64_2); err != nil {
		return Node{}, err
	}
	if n.String64_3, err = readFieldString(r, fields, FieldString64_3); err != nil {
		return Node{}, err
	}
	if n.String64_4, err = readFieldString(r, fields, FieldString64_4); err != nil {
		return Node{}, err
	}
	if n.String64_5, err = readFieldString(r, fields, FieldString64_5); err != nil {
		return Node{}, err
	}
	if n.String64_6, err = readFieldString(r, fields, FieldString64_6); err != nil {
		return Node{}, err
	}
	if n.IString64_1, err = readFieldString(r, fields, FieldIString64_1); err != nil {
		return Node{}, err
	}
	if n.IString64_2, err = readFieldString(r, fields, FieldIString64_2); err != nil {
		return Node{}, err
	}
	if n.Text_1, err = readFieldString(r, fields, FieldText_1); err != nil {
		return Node{}, err
	}
	if n.Text_2, err = readFieldString(r, fields, FieldText_2); err != nil {
		return Node{}, err
	}
	if n.Blob_1, err = readFieldBlob(r, fields, FieldBlob_1); err != nil {
		return Node{}, err
	}
	if n.Blob_2, err = readFieldBlob(r, fields, FieldBlob_2); err != nil {
		return Node{}, err
	}

	return n, nil
}

func writeFieldU32(w io.Writer, fields, field Field, v uint32) error {
	if fields&field == 0 {
		return nil
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeFieldI32(w io.Writer, fields, field Field, v int32) error {
	return writeFieldU32(w, fields, field, uint32(v))
}

func writeFieldUUID(w io.Writer, fields, field Field, v uuid.UUID) error {
	if fields&field == 0 {
		return nil
	}
	return netio.WriteUUID(w, v)
}

func writeFieldString(w io.Writer, fields, field Field, v string) error {
	if fields&field == 0 {
		return nil
	}
	return writeVaultString(w, v)
}

func writeFieldBlob(w io.Writer, fields, field Field, v []byte) error {
	if fields&field == 0 {
		return nil
	}
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(v)))
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

// WriteNode encodes n's presence bitmap followed by each present field, in
// the same fixed order ReadNode expects.
func WriteNode(w io.Writer, n Node) error {
	var fieldsBuf [8]byte
	binary.LittleEndian.PutUint64(fieldsBuf[:], uint64(n.Fields))
	if _, err := w.Write(fieldsBuf[:]); err != nil {
		return fmt.Errorf("writing node fields bitmap: %w", err)
	}

	fields := n.Fields
	writers := []func() error{
		func() error { return writeFieldU32(w, fields, FieldNodeID, n.NodeID) },
		func() error { return writeFieldU32(w, fields, FieldCreateTime, n.CreateTime) },
		func() error { return writeFieldU32(w, fields, FieldModifyTime, n.ModifyTime) },
		func() error { return writeFieldString(w, fields, FieldCreateAgeName, n.CreateAgeName) },
		func() error { return writeFieldUUID(w, fields, FieldCreateAgeUUID, n.CreateAgeUUID) },
		func() error { return writeFieldUUID(w, fields, FieldCreatorUUID, n.CreatorUUID) },
		func() error { return writeFieldU32(w, fields, FieldCreatorID, n.CreatorID) },
		func() error { return writeFieldI32(w, fields, FieldNodeType, n.NodeType) },
		func() error { return writeFieldI32(w, fields, FieldInt32_1, n.Int32_1) },
		func() error { return writeFieldI32(w, fields, FieldInt32_2, n.Int32_2) },
		func() error { return writeFieldI32(w, fields, FieldInt32_3, n.Int32_3) },
		func() error { return writeFieldI32(w, fields, FieldInt32_4, n.Int32_4) },
		func() error { return writeFieldU32(w, fields, FieldUint32_1, n.Uint32_1) },
		func() error { return writeFieldU32(w, fields, FieldUint32_2, n.Uint32_2) },
		func() error { return writeFieldU32(w, fields, FieldUint32_3, n.Uint32_3) },
		func() error { return writeFieldU32(w, fields, FieldUint32_4, n.Uint32_4) },
		func() error { return writeFieldUUID(w, fields, FieldUUID_1, n.UUID_1) },
		func() error { return writeFieldUUID(w, fields, FieldUUID_2, n.UUID_2) },
		func() error { return writeFieldUUID(w, fields, FieldUUID_3, n.UUID_3) },
		func() error { return writeFieldUUID(w, fields, FieldUUID_4, n.UUID_4) },
		func() error { return writeFieldString(w, fields, FieldString64_1, n.String64_1) },
		func() error { return writeFieldString(w, fields, FieldString64_2, n.String64_2) },
		func() error { return writeFieldString(w, fields, FieldString64_3, n.String64_3) },
		func() error { return writeFieldString(w, fields, FieldString64_4, n.String64_4) },
		func() error { return writeFieldString(w, fields, FieldString64_5, n.String64_5) },
		func() error { return writeFieldString(w, fields, FieldString64_6, n.String64_6) },
		func() error { return writeFieldString(w, fields, FieldIString64_1, n.IString64_1) },
		func() error { return writeFieldString(w, fields, FieldIString64_2, n.IString64_2) },
		func() error { return writeFieldString(w, fields, FieldText_1, n.Text_1) },
		func() error { return writeFieldString(w, fields, FieldText_2, n.Text_2) },
		func() error { return writeFieldBlob(w, fields, FieldBlob_1, n.Blob_1) },
		func() error { return writeFieldBlob(w, fields, FieldBlob_2, n.Blob_2) },
	}
	for _, wr := range writers {
		if err := wr(); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether n has the same value as other for every field
// set in the query template's Fields bitmap. Nodes typically search the
// vault by partially-populated template, so unset fields in the template
// are wildcards.
func (n Node) Matches(template Node) bool {
	f := template.Fields
	if f&FieldNodeID != 0 && n.NodeID != template.NodeID {
		return false
	}
	if f&FieldCreateTime != 0 && n.CreateTime != template.CreateTime ||
		f&FieldModifyTime != 0 && n.ModifyTime != template.ModifyTime ||
		f&FieldText_1 != 0 && n.Text_1 != template.Text_1 ||
		f&FieldText_2 != 0 && n.Text_2 != template.Text_2 ||
		f&FieldBlob_1 != 0 && !bytes.Equal(n.Blob_1, template.Blob_1) ||
		f&FieldBlob_2 != 0 && !bytes.Equal(n.Blob_2, template.Blob_2) {
		return false
	}
	if f&FieldCreateAgeName != 0 && n.CreateAgeName != template.CreateAgeName {
		return false
	}
	if f&FieldCreateAgeUUID != 0 && n.CreateAgeUUID != template.CreateAgeUUID {
		return false
	}
	if f&FieldCreatorUUID != 0 && n.CreatorUUID != template.CreatorUUID {
		return false
	}
	if f&FieldCreatorID != 0 && n.CreatorID != template.CreatorID {
		return false
	}
	if f&FieldNodeType != 0 && n.NodeType != template.NodeType {
		return false
	}
	if f&FieldInt32_1 != 0 && n.Int32_1 != template.Int32_1 {
		return false
	}
	if f&FieldInt32_2 != 0 && n.Int32_2 != template.Int32_2 {
		return false
	}
	if f&FieldInt32_3 != 0 && n.Int32_3 != template.Int32_3 {
		return false
	}
	if f&FieldInt32_4 != 0 && n.Int32_4 != template.Int32_4 {
		return false
	}
	if f&FieldUint32_1 != 0 && n.Uint32_1 != template.Uint32_1 {
		return false
	}
	if f&FieldUint32_2 != 0 && n.Uint32_2 != template.Uint32_2 {
		return false
	}
	if f&FieldUint32_3 != 0 && n.Uint32_3 != template.Uint32_3 {
		return false
	}
	if f&FieldUint32_4 != 0 && n.Uint32_4 != template.Uint32_4 {
		return false
	}
	if f&FieldUUID_1 != 0 && n.UUID_1 != template.UUID_1 {
		return false
	}
	if f&FieldUUID_2 != 0 && n.UUID_2 != template.UUID_2 {
		return false
	}
	if f&FieldUUID_3 != 0 && n.UUID_3 != template.UUID_3 {
		return false
	}
	if f&FieldUUID_4 != 0 && n.UUID_4 != template.UUID_4 {
		return false
	}
	if f&FieldString64_1 != 0 && n.String64_1 != template.String64_1 {
		return false
	}
	if f&FieldString64_2 != 0 && n.String64_2 != template.String64_2 {
		return false
	}
	if f&FieldString64_3 != 0 && n.String64_3 != template.String64_3 {
		return false
	}
	if f&FieldString64_4 != 0 && n.String64_4 != template.String64_4 {
		return false
	}
	if f&FieldString64_5 != 0 && n.String64_5 != template.String64_5 {
		return false
	}
	if f&FieldString64_6 != 0 && n.String64_6 != template.String64_6 {
		return false
	}
	if f&FieldIString64_1 != 0 && !strings.EqualFold(n.IString64_1, template.IString64_1) {
		return false
	}
	if f&FieldIString64_2 != 0 && !strings.EqualFold(n.IString64_2, template.IString64_2) {
		return false
	}
	return true
}
