package auth

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/nimue-net/uruserver/internal/codec/netio"
	"github.com/nimue-net/uruserver/internal/netresult"
	"github.com/nimue-net/uruserver/internal/vault"
)

// Client -> server message ids. The enumeration carries several slots the
// client never actually defines (EulaVersion, PlayerSelect, ...); receiving
// one of those is a protocol violation and closes the connection.
const (
	cli2AuthPingRequest uint16 = iota
	cli2AuthClientRegisterRequest
	cli2AuthClientSetCCRLevel
	cli2AuthAcctLoginRequest
	cli2AuthAcctSetEulaVersion
	cli2AuthAcctSetDataRequest
	cli2AuthAcctSetPlayerRequest
	cli2AuthAcctCreateRequest
	cli2AuthAcctChangePasswordRequest
	cli2AuthAcctSetRolesRequest
	cli2AuthAcctSetBillingTypeRequest
	cli2AuthAcctActivateRequest
	cli2AuthAcctCreateFromKeyRequest
	cli2AuthPlayerDeleteRequest
	cli2AuthPlayerUndeleteRequest
	cli2AuthPlayerSelectRequest
	cli2AuthPlayerRenameRequest
	cli2AuthPlayerCreateRequest
	cli2AuthPlayerSetStatus
	cli2AuthPlayerChat
	cli2AuthUpgradeVisitorRequest
	cli2AuthSetPlayerBanStatusRequest
	cli2AuthKickPlayer
	cli2AuthChangePlayerNameRequest
	cli2AuthSendFriendInviteRequest
	cli2AuthVaultNodeCreate
	cli2AuthVaultNodeFetch
	cli2AuthVaultNodeSave
	cli2AuthVaultNodeDelete
	cli2AuthVaultNodeAdd
	cli2AuthVaultNodeRemove
	cli2AuthVaultFetchNodeRefs
	cli2AuthVaultInitAgeRequest
	cli2AuthVaultNodeFind
	cli2AuthVaultSetSeen
	cli2AuthVaultSendNode
	cli2AuthAgeRequest
	cli2AuthFileListRequest
	cli2AuthFileDownloadRequest
	cli2AuthFileDownloadChunkAck
	cli2AuthPropagateBuffer
	cli2AuthGetPublicAgeList
	cli2AuthSetAgePublic
	cli2AuthLogPythonTraceback
	cli2AuthLogStackDump
	cli2AuthLogClientDebuggerConnect
	cli2AuthScoreCreate
	cli2AuthScoreDelete
	cli2AuthScoreGetScores
	cli2AuthScoreAddPoints
	cli2AuthScoreTransferPoints
	cli2AuthScoreSetPoints
	cli2AuthScoreGetRanks
	cli2AuthAccountExistsRequest

	// Extended messages occupy a separate id range.
	cli2AuthAgeRequestEx        uint16 = 0x1000
	cli2AuthScoreGetHighScores  uint16 = 0x1001
)

// Server -> client message ids.
const (
	auth2CliPingReply uint16 = iota
	auth2CliServerAddr
	auth2CliNotifyNewBuild
	auth2CliClientRegisterReply
	auth2CliAcctLoginReply
	auth2CliAcctData
	auth2CliAcctPlayerInfo
	auth2CliAcctSetPlayerReply
	auth2CliAcctCreateReply
	auth2CliAcctChangePasswordReply
	auth2CliAcctSetRolesReply
	auth2CliAcctSetBillingTypeReply
	auth2CliAcctActivateReply
	auth2CliAcctCreateFromKeyReply
	auth2CliPlayerList
	auth2CliPlayerChat
	auth2CliPlayerCreateReply
	auth2CliPlayerDeleteReply
	auth2CliUpgradeVisitorReply
	auth2CliSetPlayerBanStatusReply
	auth2CliChangePlayerNameReply
	auth2CliSendFriendInviteReply
	auth2CliFriendNotify
	auth2CliVaultNodeCreated
	auth2CliVaultNodeFetched
	auth2CliVaultNodeChanged
	auth2CliVaultNodeDeleted
	auth2CliVaultNodeAdded
	auth2CliVaultNodeRemoved
	auth2CliVaultNodeRefsFetched
	auth2CliVaultInitAgeReply
	auth2CliVaultNodeFindReply
	auth2CliVaultSaveNodeReply
	auth2CliVaultAddNodeReply
	auth2CliVaultRemoveNodeReply
	auth2CliAgeReply
	auth2CliFileListReply
	auth2CliFileDownloadChunk
	auth2CliPropagateBuffer
	auth2CliKickedOff
	auth2CliPublicAgeList
	auth2CliScoreCreateReply
	auth2CliScoreDeleteReply
	auth2CliScoreGetScoresReply
	auth2CliScoreAddPointsReply
	auth2CliScoreTransferPointsReply
	auth2CliScoreSetPointsReply
	auth2CliScoreGetRanksReply
	auth2CliAccountExistsReply

	auth2CliAgeReplyEx              uint16 = 0x1000
	auth2CliScoreGetHighScoresReply uint16 = 0x1001
	auth2CliServerCaps              uint16 = 0x1002
)

// Request types, one per supported client message. Field order matches the
// wire order exactly.

type PingRequest struct {
	PingTime uint32
	TransID  uint32
	Payload  []byte
}

type ClientRegisterRequest struct{ BuildID uint32 }

type ClientSetCCRLevel struct{ Level uint32 }

type AcctLoginRequest struct {
	TransID         uint32
	ClientChallenge uint32
	AccountName     string
	PassHash        [20]byte
	AuthToken       string
	OS              string
}

type AcctSetPlayerRequest struct{ TransID, PlayerID uint32 }

type AcctCreateRequest struct {
	TransID     uint32
	AccountName string
	AuthHash    [20]byte
	Flags       uint32
	BillingType uint32
}

type AcctChangePasswordRequest struct {
	TransID     uint32
	AccountName string
	AuthHash    [20]byte
}

type AcctSetRolesRequest struct {
	TransID     uint32
	AccountName string
	Flags       uint32
}

type AcctSetBillingTypeRequest struct {
	TransID     uint32
	AccountName string
	BillingType uint32
}

type AcctActivateRequest struct {
	TransID       uint32
	ActivationKey uuid.UUID
}

type AcctCreateFromKeyRequest struct {
	TransID     uint32
	AccountName string
	AuthHash    [20]byte
	Key         uuid.UUID
	BillingType uint32
}

type PlayerDeleteRequest struct{ TransID, PlayerID uint32 }

type PlayerCreateRequest struct {
	TransID      uint32
	PlayerName   string
	AvatarShape  string
	FriendInvite string
}

type UpgradeVisitorRequest struct{ TransID, PlayerID uint32 }

type SetPlayerBanStatusRequest struct{ TransID, PlayerID, Banned uint32 }

type KickPlayer struct{ PlayerID uint32 }

type ChangePlayerNameRequest struct {
	TransID  uint32
	PlayerID uint32
	NewName  string
}

type SendFriendInviteRequest struct {
	TransID  uint32
	InviteID uuid.UUID
	Email    string
	ToPlayer string
}

type VaultNodeCreate struct {
	TransID    uint32
	NodeBuffer []byte
}

type VaultNodeFetch struct{ TransID, NodeID uint32 }

type VaultNodeSave struct {
	TransID    uint32
	NodeID     uint32
	Revision   uuid.UUID
	NodeBuffer []byte
}

type VaultNodeDelete struct{ NodeID uint32 }

type VaultNodeAdd struct{ TransID, ParentID, ChildID, OwnerID uint32 }

type VaultNodeRemove struct{ TransID, ParentID, ChildID uint32 }

type VaultFetchNodeRefs struct{ TransID, NodeID uint32 }

type VaultInitAgeRequest struct {
	TransID             uint32
	AgeInstanceID       uuid.UUID
	ParentAgeInstanceID uuid.UUID
	Filename            string
	InstanceName        string
	UserName            string
	Description         string
	Sequence            uint32
	Language            uint32
}

type VaultNodeFind struct {
	TransID    uint32
	NodeBuffer []byte
}

type VaultSetSeen struct {
	ParentID, ChildID uint32
	Seen              uint8
}

type VaultSendNode struct{ SrcNodeID, DestPlayerID uint32 }

type AgeRequest struct {
	TransID       uint32
	AgeName       string
	AgeInstanceID uuid.UUID
}

type FileListRequest struct {
	TransID   uint32
	Directory string
	Ext       string
}

type FileDownloadRequest struct {
	TransID  uint32
	Filename string
}

type FileDownloadChunkAck struct{ TransID uint32 }

type PropagateBuffer struct {
	TypeID uint32
	Buffer []byte
}

type GetPublicAgeList struct {
	TransID     uint32
	AgeFilename string
}

type SetAgePublic struct {
	AgeInfoID uint32
	Public    uint8
}

type LogPythonTraceback struct{ Traceback string }

type LogStackDump struct{ StackDump string }

type LogClientDebuggerConnect struct{ Dummy uint32 }

type ScoreCreate struct {
	TransID  uint32
	OwnerID  uint32
	GameName string
	GameType uint32
	Value    uint32
}

type ScoreDelete struct{ TransID, ScoreID uint32 }

type ScoreGetScores struct {
	TransID  uint32
	OwnerID  uint32
	GameName string
}

type ScoreAddPoints struct{ TransID, ScoreID, Points uint32 }

type ScoreTransferPoints struct{ TransID, SrcScoreID, DestScoreID, Points uint32 }

type ScoreSetPoints struct{ TransID, ScoreID, Points uint32 }

type ScoreGetRanks struct {
	TransID        uint32
	OwnerID        uint32
	ScoreGroup     uint32
	ParentFolderID uint32
	GameName       string
	TimePeriod     uint32
	NumResults     uint32
	PageNumber     uint32
	SortDesc       uint32
}

type AccountExistsRequest struct {
	TransID     uint32
	AccountName string
}

type ScoreGetHighScores struct {
	TransID   uint32
	AgeID     uint32
	MaxScores uint32
	GameName  string
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readU8(r io.Reader) (uint8, error) {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	return b[0], err
}

func readShaDigest(r io.Reader) ([20]byte, error) {
	var d [20]byte
	_, err := io.ReadFull(r, d[:])
	return d, err
}

// readU32s fills dst from the stream, one little-endian u32 per slot.
func readU32s(r io.Reader, dst ...*uint32) error {
	for _, d := range dst {
		v, err := readU32(r)
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}

// ReadRequest decodes the next client message from r. Ids the client never
// defines, and unknown ids, come back as errors: a frame-level parse error
// closes the connection since there is no way to resynchronize the stream.
func ReadRequest(r io.Reader) (any, error) {
	var msgID uint16
	if err := binary.Read(r, binary.LittleEndian, &msgID); err != nil {
		return nil, err
	}

	switch msgID {
	case cli2AuthPingRequest:
		var m PingRequest
		if err := readU32s(r, &m.PingTime, &m.TransID); err != nil {
			return nil, err
		}
		payload, err := netio.ReadSizedBuffer(r, netio.MaxPingPayload)
		if err != nil {
			return nil, err
		}
		m.Payload = payload
		return m, nil

	case cli2AuthClientRegisterRequest:
		var m ClientRegisterRequest
		return m, readU32s(r, &m.BuildID)

	case cli2AuthClientSetCCRLevel:
		var m ClientSetCCRLevel
		return m, readU32s(r, &m.Level)

	case cli2AuthAcctLoginRequest:
		var m AcctLoginRequest
		var err error
		if err = readU32s(r, &m.TransID, &m.ClientChallenge); err != nil {
			return nil, err
		}
		if m.AccountName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		if m.PassHash, err = readShaDigest(r); err != nil {
			return nil, err
		}
		if m.AuthToken, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		if m.OS, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		return m, nil

	case cli2AuthAcctSetPlayerRequest:
		var m AcctSetPlayerRequest
		return m, readU32s(r, &m.TransID, &m.PlayerID)

	case cli2AuthAcctCreateRequest:
		var m AcctCreateRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.AccountName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		if m.AuthHash, err = readShaDigest(r); err != nil {
			return nil, err
		}
		return m, readU32s(r, &m.Flags, &m.BillingType)

	case cli2AuthAcctChangePasswordRequest:
		var m AcctChangePasswordRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.AccountName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		m.AuthHash, err = readShaDigest(r)
		return m, err

	case cli2AuthAcctSetRolesRequest:
		var m AcctSetRolesRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.AccountName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		return m, readU32s(r, &m.Flags)

	case cli2AuthAcctSetBillingTypeRequest:
		var m AcctSetBillingTypeRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.AccountName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		return m, readU32s(r, &m.BillingType)

	case cli2AuthAcctActivateRequest:
		var m AcctActivateRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		m.ActivationKey, err = netio.ReadUUID(r)
		return m, err

	case cli2AuthAcctCreateFromKeyRequest:
		var m AcctCreateFromKeyRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.AccountName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		if m.AuthHash, err = readShaDigest(r); err != nil {
			return nil, err
		}
		if m.Key, err = netio.ReadUUID(r); err != nil {
			return nil, err
		}
		return m, readU32s(r, &m.BillingType)

	case cli2AuthPlayerDeleteRequest:
		var m PlayerDeleteRequest
		return m, readU32s(r, &m.TransID, &m.PlayerID)

	case cli2AuthPlayerCreateRequest:
		var m PlayerCreateRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.PlayerName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		if m.AvatarShape, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		m.FriendInvite, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthUpgradeVisitorRequest:
		var m UpgradeVisitorRequest
		return m, readU32s(r, &m.TransID, &m.PlayerID)

	case cli2AuthSetPlayerBanStatusRequest:
		var m SetPlayerBanStatusRequest
		return m, readU32s(r, &m.TransID, &m.PlayerID, &m.Banned)

	case cli2AuthKickPlayer:
		var m KickPlayer
		return m, readU32s(r, &m.PlayerID)

	case cli2AuthChangePlayerNameRequest:
		var m ChangePlayerNameRequest
		var err error
		if err = readU32s(r, &m.TransID, &m.PlayerID); err != nil {
			return nil, err
		}
		m.NewName, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthSendFriendInviteRequest:
		var m SendFriendInviteRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.InviteID, err = netio.ReadUUID(r); err != nil {
			return nil, err
		}
		if m.Email, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		m.ToPlayer, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthVaultNodeCreate:
		var m VaultNodeCreate
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		m.NodeBuffer, err = netio.ReadSizedBuffer(r, netio.MaxNodeBufferSize)
		return m, err

	case cli2AuthVaultNodeFetch:
		var m VaultNodeFetch
		return m, readU32s(r, &m.TransID, &m.NodeID)

	case cli2AuthVaultNodeSave:
		var m VaultNodeSave
		var err error
		if err = readU32s(r, &m.TransID, &m.NodeID); err != nil {
			return nil, err
		}
		if m.Revision, err = netio.ReadUUID(r); err != nil {
			return nil, err
		}
		m.NodeBuffer, err = netio.ReadSizedBuffer(r, netio.MaxNodeBufferSize)
		return m, err

	case cli2AuthVaultNodeDelete:
		var m VaultNodeDelete
		return m, readU32s(r, &m.NodeID)

	case cli2AuthVaultNodeAdd:
		var m VaultNodeAdd
		return m, readU32s(r, &m.TransID, &m.ParentID, &m.ChildID, &m.OwnerID)

	case cli2AuthVaultNodeRemove:
		var m VaultNodeRemove
		return m, readU32s(r, &m.TransID, &m.ParentID, &m.ChildID)

	case cli2AuthVaultFetchNodeRefs:
		var m VaultFetchNodeRefs
		return m, readU32s(r, &m.TransID, &m.NodeID)

	case cli2AuthVaultInitAgeRequest:
		var m VaultInitAgeRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.AgeInstanceID, err = netio.ReadUUID(r); err != nil {
			return nil, err
		}
		if m.ParentAgeInstanceID, err = netio.ReadUUID(r); err != nil {
			return nil, err
		}
		if m.Filename, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		if m.InstanceName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		if m.UserName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		if m.Description, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		return m, readU32s(r, &m.Sequence, &m.Language)

	case cli2AuthVaultNodeFind:
		var m VaultNodeFind
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		m.NodeBuffer, err = netio.ReadSizedBuffer(r, netio.MaxNodeBufferSize)
		return m, err

	case cli2AuthVaultSetSeen:
		var m VaultSetSeen
		var err error
		if err = readU32s(r, &m.ParentID, &m.ChildID); err != nil {
			return nil, err
		}
		m.Seen, err = readU8(r)
		return m, err

	case cli2AuthVaultSendNode:
		var m VaultSendNode
		return m, readU32s(r, &m.SrcNodeID, &m.DestPlayerID)

	case cli2AuthAgeRequest:
		var m AgeRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.AgeName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		m.AgeInstanceID, err = netio.ReadUUID(r)
		return m, err

	case cli2AuthFileListRequest:
		var m FileListRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		if m.Directory, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		m.Ext, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthFileDownloadRequest:
		var m FileDownloadRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		m.Filename, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthFileDownloadChunkAck:
		var m FileDownloadChunkAck
		return m, readU32s(r, &m.TransID)

	case cli2AuthPropagateBuffer:
		var m PropagateBuffer
		var err error
		if err = readU32s(r, &m.TypeID); err != nil {
			return nil, err
		}
		m.Buffer, err = netio.ReadSizedBuffer(r, netio.MaxPropagateBufferSize)
		return m, err

	case cli2AuthGetPublicAgeList:
		var m GetPublicAgeList
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		m.AgeFilename, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthSetAgePublic:
		var m SetAgePublic
		var err error
		if err = readU32s(r, &m.AgeInfoID); err != nil {
			return nil, err
		}
		m.Public, err = readU8(r)
		return m, err

	case cli2AuthLogPythonTraceback:
		var m LogPythonTraceback
		var err error
		m.Traceback, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthLogStackDump:
		var m LogStackDump
		var err error
		m.StackDump, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthLogClientDebuggerConnect:
		var m LogClientDebuggerConnect
		return m, readU32s(r, &m.Dummy)

	case cli2AuthScoreCreate:
		var m ScoreCreate
		var err error
		if err = readU32s(r, &m.TransID, &m.OwnerID); err != nil {
			return nil, err
		}
		if m.GameName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		return m, readU32s(r, &m.GameType, &m.Value)

	case cli2AuthScoreDelete:
		var m ScoreDelete
		return m, readU32s(r, &m.TransID, &m.ScoreID)

	case cli2AuthScoreGetScores:
		var m ScoreGetScores
		var err error
		if err = readU32s(r, &m.TransID, &m.OwnerID); err != nil {
			return nil, err
		}
		m.GameName, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthScoreAddPoints:
		var m ScoreAddPoints
		return m, readU32s(r, &m.TransID, &m.ScoreID, &m.Points)

	case cli2AuthScoreTransferPoints:
		var m ScoreTransferPoints
		return m, readU32s(r, &m.TransID, &m.SrcScoreID, &m.DestScoreID, &m.Points)

	case cli2AuthScoreSetPoints:
		var m ScoreSetPoints
		return m, readU32s(r, &m.TransID, &m.ScoreID, &m.Points)

	case cli2AuthScoreGetRanks:
		var m ScoreGetRanks
		var err error
		if err = readU32s(r, &m.TransID, &m.OwnerID, &m.ScoreGroup, &m.ParentFolderID); err != nil {
			return nil, err
		}
		if m.GameName, err = netio.ReadUTF16String(r); err != nil {
			return nil, err
		}
		return m, readU32s(r, &m.TimePeriod, &m.NumResults, &m.PageNumber, &m.SortDesc)

	case cli2AuthAccountExistsRequest:
		var m AccountExistsRequest
		var err error
		if err = readU32s(r, &m.TransID); err != nil {
			return nil, err
		}
		m.AccountName, err = netio.ReadUTF16String(r)
		return m, err

	case cli2AuthScoreGetHighScores:
		var m ScoreGetHighScores
		var err error
		if err = readU32s(r, &m.TransID, &m.AgeID, &m.MaxScores); err != nil {
			return nil, err
		}
		m.GameName, err = netio.ReadUTF16String(r)
		return m, err

	default:
		return nil, fmt.Errorf("auth: unsupported message id %d", msgID)
	}
}

// Reply writers. Each builds the whole message and issues exactly one
// Write, so a reply is never interleaved with a broadcast mid-frame.

type replyBuffer struct {
	buf []byte
}

func newReply(id uint16) *replyBuffer {
	rb := &replyBuffer{buf: make([]byte, 0, 64)}
	rb.u16(id)
	return rb
}

func (rb *replyBuffer) u16(v uint16) *replyBuffer {
	rb.buf = binary.LittleEndian.AppendUint16(rb.buf, v)
	return rb
}

func (rb *replyBuffer) u32(v uint32) *replyBuffer {
	rb.buf = binary.LittleEndian.AppendUint32(rb.buf, v)
	return rb
}

func (rb *replyBuffer) i32(v int32) *replyBuffer { return rb.u32(uint32(v)) }

func (rb *replyBuffer) u8(v uint8) *replyBuffer {
	rb.buf = append(rb.buf, v)
	return rb
}

func (rb *replyBuffer) result(c netresult.Code) *replyBuffer { return rb.i32(int32(c)) }

func (rb *replyBuffer) sized(b []byte) *replyBuffer {
	rb.u32(uint32(len(b)))
	rb.buf = append(rb.buf, b...)
	return rb
}

func (rb *replyBuffer) uuid(id uuid.UUID) *replyBuffer {
	rb.buf = appendUUIDLE(rb.buf, id)
	return rb
}

// appendUUIDLE appends the 16-byte little-endian wire form of id: the
// first three groups are byte-swapped, the trailing eight bytes are not.
func appendUUIDLE(buf []byte, id uuid.UUID) []byte {
	buf = append(buf, id[3], id[2], id[1], id[0])
	buf = append(buf, id[5], id[4])
	buf = append(buf, id[7], id[6])
	return append(buf, id[8:]...)
}

func (rb *replyBuffer) utf16(s string) *replyBuffer {
	units := netio.StringToUTF16(s)
	rb.u16(uint16(len(units)))
	for _, u := range units {
		rb.u16(u)
	}
	return rb
}

func (rb *replyBuffer) fixedUTF16(s string, n int) *replyBuffer {
	units := netio.StringToUTF16(s)
	if len(units) > n-1 {
		units = units[:n-1]
	}
	for i := 0; i < n; i++ {
		if i < len(units) {
			rb.u16(units[i])
		} else {
			rb.u16(0)
		}
	}
	return rb
}

func (rb *replyBuffer) send(w io.Writer) error {
	_, err := w.Write(rb.buf)
	return err
}

func writePingReply(w io.Writer, transID, pingTime uint32, payload []byte) error {
	return newReply(auth2CliPingReply).u32(transID).u32(pingTime).sized(payload).send(w)
}

func writeServerCaps(w io.Writer, caps *netio.BitVector) error {
	bw := &sliceWriter{}
	if err := caps.Write(bw); err != nil {
		return err
	}
	return newReply(auth2CliServerCaps).sized(bw.buf).send(w)
}

type sliceWriter struct{ buf []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func writeClientRegisterReply(w io.Writer, serverChallenge uint32) error {
	return newReply(auth2CliClientRegisterReply).u32(serverChallenge).send(w)
}

func writeAcctLoginReply(w io.Writer, transID uint32, result netresult.Code,
	accountID uuid.UUID, flags, billing uint32, key [4]uint32) error {
	rb := newReply(auth2CliAcctLoginReply).u32(transID).result(result).uuid(accountID).u32(flags).u32(billing)
	for _, word := range key {
		rb.u32(word)
	}
	return rb.send(w)
}

func writeAcctPlayerInfo(w io.Writer, transID, playerID uint32, name, shape string, explorer uint32) error {
	return newReply(auth2CliAcctPlayerInfo).u32(transID).u32(playerID).
		utf16(name).utf16(shape).u32(explorer).send(w)
}

// writeResultReply covers the many replies that carry only a transaction
// id and a result code.
func writeResultReply(w io.Writer, msgID uint16, transID uint32, result netresult.Code) error {
	return newReply(msgID).u32(transID).result(result).send(w)
}

func writeAcctCreateReply(w io.Writer, transID uint32, result netresult.Code, accountID uuid.UUID) error {
	return newReply(auth2CliAcctCreateReply).u32(transID).result(result).uuid(accountID).send(w)
}

func writeAcctCreateFromKeyReply(w io.Writer, transID uint32, result netresult.Code, accountID, key uuid.UUID) error {
	return newReply(auth2CliAcctCreateFromKeyReply).u32(transID).result(result).uuid(accountID).uuid(key).send(w)
}

func writePlayerCreateReply(w io.Writer, transID uint32, result netresult.Code,
	playerID, explorer uint32, name, shape string) error {
	return newReply(auth2CliPlayerCreateReply).u32(transID).result(result).
		u32(playerID).u32(explorer).utf16(name).utf16(shape).send(w)
}

func writeVaultNodeCreated(w io.Writer, transID uint32, result netresult.Code, nodeID uint32) error {
	return newReply(auth2CliVaultNodeCreated).u32(transID).result(result).u32(nodeID).send(w)
}

func writeVaultNodeFetched(w io.Writer, transID uint32, result netresult.Code, nodeBuffer []byte) error {
	return newReply(auth2CliVaultNodeFetched).u32(transID).result(result).sized(nodeBuffer).send(w)
}

func writeVaultNodeChanged(w io.Writer, nodeID uint32, revision [16]byte) error {
	rb := newReply(auth2CliVaultNodeChanged).u32(nodeID)
	rb.buf = append(rb.buf, revision[:]...)
	return rb.send(w)
}

func writeVaultNodeDeleted(w io.Writer, nodeID uint32) error {
	return newReply(auth2CliVaultNodeDeleted).u32(nodeID).send(w)
}

func writeVaultNodeAdded(w io.Writer, parent, child, owner uint32) error {
	return newReply(auth2CliVaultNodeAdded).u32(parent).u32(child).u32(owner).send(w)
}

func writeVaultNodeRefsFetched(w io.Writer, transID uint32, result netresult.Code, refs []vault.NodeRef) error {
	rb := newReply(auth2CliVaultNodeRefsFetched).u32(transID).result(result).u32(uint32(len(refs)))
	for _, ref := range refs {
		rb.u32(ref.Parent).u32(ref.Child).u32(ref.Owner)
		if ref.Seen {
			rb.u8(1)
		} else {
			rb.u8(0)
		}
	}
	return rb.send(w)
}

func writeVaultInitAgeReply(w io.Writer, transID uint32, result netresult.Code, ageID, ageInfoID uint32) error {
	return newReply(auth2CliVaultInitAgeReply).u32(transID).result(result).u32(ageID).u32(ageInfoID).send(w)
}

func writeVaultNodeFindReply(w io.Writer, transID uint32, result netresult.Code, ids []uint32) error {
	rb := newReply(auth2CliVaultNodeFindReply).u32(transID).result(result).u32(uint32(len(ids)))
	for _, id := range ids {
		rb.u32(id)
	}
	return rb.send(w)
}

func writeAgeReply(w io.Writer, transID uint32, result netresult.Code,
	mcpID uint32, instanceID uuid.UUID, vaultID, gameServerAddr uint32) error {
	return newReply(auth2CliAgeReply).u32(transID).result(result).
		u32(mcpID).uuid(instanceID).u32(vaultID).u32(gameServerAddr).send(w)
}

func writeFileDownloadChunk(w io.Writer, transID uint32, result netresult.Code,
	totalSize, offset uint32, data []byte) error {
	return newReply(auth2CliFileDownloadChunk).u32(transID).result(result).
		u32(totalSize).u32(offset).sized(data).send(w)
}

func writePropagateBuffer(w io.Writer, typeID uint32, buffer []byte) error {
	return newReply(auth2CliPropagateBuffer).u32(typeID).sized(buffer).send(w)
}

// NetAgeInfo is one public-age-list entry: fixed-width strings plus
// population counters.
type NetAgeInfo struct {
	InstanceID        uuid.UUID
	Filename          string
	InstanceName      string
	UserName          string
	Description       string
	Sequence          uint32
	Language          uint32
	Population        uint32
	CurrentPopulation uint32
}

func writePublicAgeList(w io.Writer, transID uint32, result netresult.Code, ages []NetAgeInfo) error {
	rb := newReply(auth2CliPublicAgeList).u32(transID).result(result).u32(uint32(len(ages)))
	for _, age := range ages {
		rb.uuid(age.InstanceID)
		rb.fixedUTF16(age.Filename, 64)
		rb.fixedUTF16(age.InstanceName, 64)
		rb.fixedUTF16(age.UserName, 64)
		rb.fixedUTF16(age.Description, 1024)
		rb.u32(age.Sequence).u32(age.Language).u32(age.Population).u32(age.CurrentPopulation)
	}
	return rb.send(w)
}

func writeScoreCreateReply(w io.Writer, transID uint32, result netresult.Code, scoreID, createdTime uint32) error {
	return newReply(auth2CliScoreCreateReply).u32(transID).result(result).u32(scoreID).u32(createdTime).send(w)
}

// writeScoreListReply serializes scores as a counted, sized buffer shared
// by the GetScores/GetHighScores replies: per score the id, owner,
// created-time, game type, value, and the game name.
func writeScoreListReply(w io.Writer, msgID uint16, transID uint32, result netresult.Code, scores []vault.Score) error {
	body := &sliceWriter{}
	for _, sc := range scores {
		rb := &replyBuffer{}
		rb.u32(sc.ScoreID).u32(sc.OwnerID).u32(0).u32(uint32(sc.Type)).i32(sc.Value)
		rb.utf16(sc.Name)
		body.buf = append(body.buf, rb.buf...)
	}
	return newReply(msgID).u32(transID).result(result).u32(uint32(len(scores))).sized(body.buf).send(w)
}

// writeScoreRanksReply serializes the rank view: 1-based rank, value, and
// the score's name per entry, already ordered by the store.
func writeScoreRanksReply(w io.Writer, transID uint32, result netresult.Code, scores []vault.Score) error {
	body := &sliceWriter{}
	for i, sc := range scores {
		rb := &replyBuffer{}
		rb.u32(uint32(i + 1)).i32(sc.Value)
		rb.utf16(sc.Name)
		body.buf = append(body.buf, rb.buf...)
	}
	return newReply(auth2CliScoreGetRanksReply).u32(transID).result(result).u32(uint32(len(scores))).sized(body.buf).send(w)
}

func writeAccountExistsReply(w io.Writer, transID uint32, result netresult.Code, exists bool) error {
	rb := newReply(auth2CliAccountExistsReply).u32(transID).result(result)
	if exists {
		rb.u8(1)
	} else {
		rb.u8(0)
	}
	return rb.send(w)
}

// writeFileListReply emits the manifest-style directory listing: a u32
// code-unit count followed by (path, size) entries, each path nul-
// terminated UTF-16 and each size packed as two u16 halves plus a nul, the
// whole list closed by one more nul unit.
func writeFileListReply(w io.Writer, transID uint32, result netresult.Code, files []listedFile) error {
	body := &replyBuffer{}
	for _, f := range files {
		for _, u := range netio.StringToUTF16(f.path) {
			body.u16(u)
		}
		body.u16(0)
		body.u16(uint16(f.size >> 16)).u16(uint16(f.size & 0xFFFF)).u16(0)
	}
	body.u16(0)

	rb := newReply(auth2CliFileListReply).u32(transID).result(result).u32(uint32(len(body.buf) / 2))
	rb.buf = append(rb.buf, body.buf...)
	return rb.send(w)
}
