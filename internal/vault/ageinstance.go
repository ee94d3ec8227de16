package vault

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nimue-net/uruserver/internal/sdl"
)

// AgeOwner names the player node that should be linked into a freshly
// created age's AgeOwners list.
type AgeOwner struct {
	PlayerID         uint32
	PlayerInfoNodeID uint32
}

// AgeInstanceRequest describes the age instance InitAge (or player/server
// startup code) wants to find-or-create.
type AgeInstanceRequest struct {
	AgeUUID        uuid.UUID
	ParentUUID     uuid.UUID
	Filename       string
	InstanceName   string
	UserName       string
	Description    string
	SequenceNumber int32
	Language       string
	Owner          *AgeOwner
}

// AgeInstanceResult is the pair of node ids every age-instance caller needs:
// the Age node itself and its AgeInfo node.
type AgeInstanceResult struct {
	AgeNodeID     uint32
	AgeInfoNodeID uint32
}

// CreateAgeInstance implements the find-or-create age instance flow: if an
// Age node already exists for req.AgeUUID its (age, ageInfo) pair is
// returned as-is; otherwise the full subtree is built and wired, a default
// SDL blob is attached, and a GameServer row is registered.
func (e *Engine) CreateAgeInstance(ctx context.Context, sdlDB *sdl.DB, req AgeInstanceRequest) (AgeInstanceResult, error) {
	existing, err := e.FindNodes(ctx, Node{
		Fields: FieldNodeType | FieldUUID_1, NodeType: int32(NodeTypeAge), UUID_1: req.AgeUUID,
	})
	if err != nil {
		return AgeInstanceResult{}, fmt.Errorf("looking up age %s: %w", req.AgeUUID, err)
	}
	if len(existing) > 0 {
		ageID := existing[0]
		refs, err := e.FetchRefs(ctx, ageID, false)
		if err != nil {
			return AgeInstanceResult{}, fmt.Errorf("fetching refs of age %d: %w", ageID, err)
		}
		for _, ref := range refs {
			child, err := e.FetchNode(ctx, ref.Child)
			if err != nil {
				continue
			}
			if child.NodeType == int32(NodeTypeAgeInfo) {
				return AgeInstanceResult{AgeNodeID: ageID, AgeInfoNodeID: child.NodeID}, nil
			}
		}
		return AgeInstanceResult{}, fmt.Errorf("age %d exists with no AgeInfo child: %w", ageID, ErrNotFound)
	}

	ageID, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldUUID_1 | FieldUUID_2 | FieldString64_1 | FieldString64_2 |
			FieldString64_3 | FieldString64_4 | FieldText_1 | FieldInt32_1,
		NodeType: int32(NodeTypeAge), UUID_1: req.AgeUUID, UUID_2: req.ParentUUID,
		String64_1: req.Filename, String64_2: req.InstanceName, String64_3: req.UserName,
		String64_4: req.Language, Text_1: req.Description, Int32_1: req.SequenceNumber,
	})
	if err != nil {
		return AgeInstanceResult{}, fmt.Errorf("creating age node: %w", err)
	}

	chronicleID, err := e.createFolder(ctx, StandardNodeChronicle)
	if err != nil {
		return AgeInstanceResult{}, err
	}
	peopleIKnowID, err := e.createFolder(ctx, StandardNodeAgePeopleIKnow)
	if err != nil {
		return AgeInstanceResult{}, err
	}
	subAgesID, err := e.createFolder(ctx, StandardNodeSubAges)
	if err != nil {
		return AgeInstanceResult{}, err
	}
	devicesID, err := e.createFolder(ctx, StandardNodeAgeDevices)
	if err != nil {
		return AgeInstanceResult{}, err
	}
	canVisitID, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldInt32_1, NodeType: int32(NodeTypePlayerInfoList),
		Int32_1: int32(StandardNodeCanVisit),
	})
	if err != nil {
		return AgeInstanceResult{}, fmt.Errorf("creating can-visit list: %w", err)
	}
	ownersID, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldInt32_1, NodeType: int32(NodeTypePlayerInfoList),
		Int32_1: int32(StandardNodeAgeOwners),
	})
	if err != nil {
		return AgeInstanceResult{}, fmt.Errorf("creating age-owners list: %w", err)
	}
	childAgesID, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldInt32_1, NodeType: int32(NodeTypeAgeInfoList),
		Int32_1: int32(StandardNodeChildAges),
	})
	if err != nil {
		return AgeInstanceResult{}, fmt.Errorf("creating child-ages list: %w", err)
	}

	var sdlBlob []byte
	sdlVersion := int32(0)
	if desc, ok := sdlDB.Latest(req.Filename); ok {
		st := sdl.New(desc)
		blob, err := st.EncodeBytes()
		if err != nil {
			return AgeInstanceResult{}, fmt.Errorf("encoding default sdl for %q: %w", req.Filename, err)
		}
		sdlBlob = blob
		sdlVersion = int32(desc.Version)
	}
	sdlID, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldString64_1 | FieldInt32_1 | FieldBlob_1,
		NodeType: int32(NodeTypeSDL), String64_1: req.Filename, Int32_1: sdlVersion, Blob_1: sdlBlob,
	})
	if err != nil {
		return AgeInstanceResult{}, fmt.Errorf("creating default sdl node: %w", err)
	}

	ageInfoID, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldUUID_1 | FieldString64_1 | FieldString64_2 | FieldString64_3 |
			FieldString64_4 | FieldText_1 | FieldInt32_1 | FieldInt32_2 | FieldUint32_1,
		NodeType: int32(NodeTypeAgeInfo), UUID_1: req.AgeUUID, String64_1: req.Filename,
		String64_2: req.InstanceName, String64_3: req.UserName, String64_4: req.Language,
		Text_1: req.Description, Int32_1: req.SequenceNumber, Int32_2: 0, Uint32_1: ageID,
	})
	if err != nil {
		return AgeInstanceResult{}, fmt.Errorf("creating age-info node: %w", err)
	}

	for _, ref := range []NodeRef{
		{Parent: ageID, Child: e.systemID, Owner: ageID},
		{Parent: ageID, Child: chronicleID, Owner: ageID},
		{Parent: ageID, Child: peopleIKnowID, Owner: ageID},
		{Parent: ageID, Child: subAgesID, Owner: ageID},
		{Parent: ageID, Child: ageInfoID, Owner: ageID},
		{Parent: ageID, Child: devicesID, Owner: ageID},
		{Parent: ageInfoID, Child: canVisitID, Owner: ageID},
		{Parent: ageInfoID, Child: sdlID, Owner: ageID},
		{Parent: ageInfoID, Child: ownersID, Owner: ageID},
		{Parent: ageInfoID, Child: childAgesID, Owner: ageID},
	} {
		if err := e.RefNode(ctx, ref, false); err != nil {
			return AgeInstanceResult{}, fmt.Errorf("linking age subtree: %w", err)
		}
	}

	if req.Owner != nil {
		if err := e.RefNode(ctx, NodeRef{Parent: ownersID, Child: req.Owner.PlayerInfoNodeID, Owner: ageID}, true); err != nil {
			return AgeInstanceResult{}, fmt.Errorf("linking age owner: %w", err)
		}
	}

	if err := e.AddGameServer(ctx, GameServer{
		InstanceID: req.AgeUUID, Filename: req.Filename, DisplayName: req.InstanceName,
		AgeID: ageID, SdlID: sdlID, Temporary: false,
	}); err != nil {
		return AgeInstanceResult{}, fmt.Errorf("registering game server: %w", err)
	}

	return AgeInstanceResult{AgeNodeID: ageID, AgeInfoNodeID: ageInfoID}, nil
}

func (e *Engine) createFolder(ctx context.Context, tag StandardNode) (uint32, error) {
	id, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldInt32_1, NodeType: int32(NodeTypeFolder), Int32_1: int32(tag),
	})
	if err != nil {
		return 0, fmt.Errorf("creating folder (tag %d): %w", tag, err)
	}
	return id, nil
}
