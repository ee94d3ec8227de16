package vault

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nimue-net/uruserver/internal/sdl"
)

// Fixed spawn points used by a brand new player's Relto/Hood/City links.
// These match the client's well-known default link-in points; this server
// never invents new ones.
const (
	reltoSpawnPoint = "Default:LinkInPointDefault:AvatarStandingPointDefault"
	hoodSpawnPoint  = "Ferry Terminal:LinkInPointFerry:AvatarStandingPointDefault"
	citySpawnPoint  = "Nexus:LinkInPointNexus:AvatarStandingPointDefault"
)

// PlayerInitResult is what InitPlayer hands back to the caller (the
// PlayerCreate auth handler) once the new player's vault subtree exists.
type PlayerInitResult struct {
	PlayerNodeID     uint32
	PlayerInfoNodeID uint32
	ReltoAgeNodeID   uint32
	ReltoInfoNodeID  uint32
}

// InitPlayer builds and wires the full vault subtree a freshly created
// player needs, per the player-initialization sequence: a Player node, a
// PlayerInfo node, the standard folder set, AgeLink nodes for Relto/Hood/
// City, and a fresh personal Relto age owned by the player.
func (e *Engine) InitPlayer(ctx context.Context, sdlDB *sdl.DB, player PlayerInfo) (PlayerInitResult, error) {
	playerID, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldUUID_1 | FieldString64_1 | FieldString64_2 | FieldUint32_1,
		NodeType: int32(NodeTypePlayer), UUID_1: player.AccountID,
		String64_1: player.Name, String64_2: player.AvatarShape, Uint32_1: player.PlayerID,
	})
	if err != nil {
		return PlayerInitResult{}, fmt.Errorf("creating player node: %w", err)
	}

	playerInfoID, err := e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldUint32_1 | FieldIString64_1 | FieldString64_1 | FieldString64_2 | FieldInt32_1 | FieldUUID_1,
		NodeType: int32(NodeTypePlayerInfo), Uint32_1: player.PlayerID,
		IString64_1: player.Name, String64_1: "", String64_2: player.AvatarShape,
		Int32_1: 0, UUID_1: uuid.Nil,
	})
	if err != nil {
		return PlayerInitResult{}, fmt.Errorf("creating player-info node: %w", err)
	}

	folders := make(map[StandardNode]uint32)
	for _, tag := range []StandardNode{
		StandardNodeBuddyList, StandardNodeIgnoreList, StandardNodePlayerInvite,
		StandardNodeAgesIOwn, StandardNodeAgeJournals, StandardNodeChronicle,
		StandardNodeAgesICanVisit, StandardNodeAvatarOutfit, StandardNodeAvatarCloset,
		StandardNodeInbox, StandardNodePeopleIKnowAbout,
	} {
		id, err := e.createFolder(ctx, tag)
		if err != nil {
			return PlayerInitResult{}, err
		}
		folders[tag] = id
	}

	reltoLinkID, err := e.createAgeLink(ctx, reltoSpawnPoint, "Personal", uuid.Nil)
	if err != nil {
		return PlayerInitResult{}, err
	}
	hoodLinkID, err := e.createAgeLink(ctx, hoodSpawnPoint, "Neighborhood", uuid.Nil)
	if err != nil {
		return PlayerInitResult{}, err
	}
	cityLinkID, err := e.createAgeLink(ctx, citySpawnPoint, "city", uuid.Nil)
	if err != nil {
		return PlayerInitResult{}, err
	}

	reltoUUID := uuid.New()
	relto, err := e.CreateAgeInstance(ctx, sdlDB, AgeInstanceRequest{
		AgeUUID:      reltoUUID,
		Filename:     "Personal",
		InstanceName: fmt.Sprintf("%s's Relto", player.Name),
		UserName:     player.Name,
		Language:     "English",
		Owner:        &AgeOwner{PlayerID: player.PlayerID, PlayerInfoNodeID: playerInfoID},
	})
	if err != nil {
		return PlayerInitResult{}, fmt.Errorf("creating relto age: %w", err)
	}

	if err := e.UpdateAgeLinkTarget(ctx, reltoLinkID, reltoUUID); err != nil {
		return PlayerInitResult{}, err
	}

	refs := []NodeRef{
		{Parent: playerID, Child: e.systemID, Owner: playerID},
		{Parent: playerID, Child: playerInfoID, Owner: playerID},
		{Parent: folders[StandardNodeAgesIOwn], Child: reltoLinkID, Owner: playerID},
		{Parent: folders[StandardNodeAgesIOwn], Child: hoodLinkID, Owner: playerID},
		{Parent: folders[StandardNodeAgesIOwn], Child: cityLinkID, Owner: playerID},
		{Parent: reltoLinkID, Child: relto.AgeInfoNodeID, Owner: playerID},
		{Parent: relto.AgeNodeID, Child: folders[StandardNodeAgesIOwn], Owner: playerID},
	}
	for _, tag := range []StandardNode{
		StandardNodeBuddyList, StandardNodeIgnoreList, StandardNodePlayerInvite,
		StandardNodeAgesIOwn, StandardNodeAgeJournals, StandardNodeChronicle,
		StandardNodeAgesICanVisit, StandardNodeAvatarOutfit, StandardNodeAvatarCloset,
		StandardNodeInbox, StandardNodePeopleIKnowAbout,
	} {
		refs = append(refs, NodeRef{Parent: playerID, Child: folders[tag], Owner: playerID})
	}
	for _, ref := range refs {
		if err := e.RefNode(ctx, ref, false); err != nil {
			return PlayerInitResult{}, fmt.Errorf("linking player subtree: %w", err)
		}
	}

	if err := e.RefNode(ctx, NodeRef{Parent: e.allPlayersID, Child: playerInfoID, Owner: playerID}, true); err != nil {
		return PlayerInitResult{}, fmt.Errorf("linking all-players: %w", err)
	}

	return PlayerInitResult{
		PlayerNodeID: playerID, PlayerInfoNodeID: playerInfoID,
		ReltoAgeNodeID: relto.AgeNodeID, ReltoInfoNodeID: relto.AgeInfoNodeID,
	}, nil
}

func (e *Engine) createAgeLink(ctx context.Context, spawnPoint, ageFilename string, ageUUID uuid.UUID) (uint32, error) {
	return e.CreateNode(ctx, Node{
		Fields: FieldNodeType | FieldString64_1 | FieldString64_2 | FieldUUID_1,
		NodeType: int32(NodeTypeAgeLink), String64_1: spawnPoint, String64_2: ageFilename, UUID_1: ageUUID,
	})
}

// UpdateAgeLinkTarget stamps an AgeLink node with the age instance it now
// points to, once that age has been created.
func (e *Engine) UpdateAgeLinkTarget(ctx context.Context, linkID uint32, ageUUID uuid.UUID) error {
	_, err := e.UpdateNode(ctx, linkID, Node{Fields: FieldUUID_1, UUID_1: ageUUID})
	return err
}
