package filestorage

import (
	"math/bits"

	"github.com/ouziel-slama/kontor/contractmodel"
	"github.com/ouziel-slama/kontor/kerrors"
	"github.com/ouziel-slama/kontor/ledger"
)

// RawFileDescriptor is create_agreement's input, the Go analogue of the
// WIT-generated RawFileDescriptor record.
type RawFileDescriptor struct {
	FileID       string `json:"file_id"`
	Root         []byte `json:"root"`
	PaddedLen    uint64 `json:"padded_len"`
	OriginalSize uint64 `json:"original_size"`
	Filename     string `json:"filename"`
}

type CreateAgreementResult struct {
	AgreementID string `json:"agreement_id"`
}

type JoinAgreementResult struct {
	AgreementID string `json:"agreement_id"`
	NodeID      string `json:"node_id"`
	Activated   bool   `json:"activated"`
}

type LeaveAgreementResult struct {
	AgreementID string `json:"agreement_id"`
	NodeID      string `json:"node_id"`
}

type SubmitProofResult struct {
	Results map[string]ChallengeStatus `json:"results"`
}

func root(ctx contractmodel.ReadContext) (*contractmodel.Wrapper, error) {
	return contractmodel.NewWrapper(ctx, contractmodel.RootPath(), ProtocolState{})
}

func agreementsMap(ctx contractmodel.ReadContext) (*contractmodel.MapAccessor, error) {
	r, err := root(ctx)
	if err != nil {
		return nil, err
	}
	f, err := r.Field("Agreements")
	if err != nil {
		return nil, err
	}
	return f.Map()
}

func challengesMap(ctx contractmodel.ReadContext) (*contractmodel.MapAccessor, error) {
	r, err := root(ctx)
	if err != nil {
		return nil, err
	}
	f, err := r.Field("Challenges")
	if err != nil {
		return nil, err
	}
	return f.Map()
}

func isPowerOfTwo(n uint64) bool {
	return n > 0 && bits.OnesCount64(n) == 1
}

// CreateAgreement implements the exported create_agreement operation. It
// registers the file with the ledger before creating the Agreement row,
// so a rejected ledger registration never leaves a dangling agreement
// behind.
func CreateAgreement(wctx contractmodel.WriteContext, led *ledger.Ledger, height uint64, desc RawFileDescriptor) (CreateAgreementResult, error) {
	if desc.FileID == "" {
		return CreateAgreementResult{}, kerrors.Validation("filestorage: file_id cannot be empty", nil)
	}
	if !isPowerOfTwo(desc.PaddedLen) {
		return CreateAgreementResult{}, kerrors.Validation("filestorage: padded_len must be a positive power of 2", nil)
	}

	agreements, err := agreementsMap(wctx)
	if err != nil {
		return CreateAgreementResult{}, err
	}

	agreementID := desc.FileID
	var existing Agreement
	found, err := agreements.LoadOne(agreementID, &existing)
	if err != nil {
		return CreateAgreementResult{}, err
	}
	if found {
		return CreateAgreementResult{}, kerrors.Validation("filestorage: agreement already exists for file_id "+agreementID, nil)
	}

	var rootField [32]byte
	copy(rootField[:], desc.Root)
	if err := led.AddFile(height, ledger.FileDescriptor{
		FileID:       desc.FileID,
		Root:         rootField,
		PaddedLen:    desc.PaddedLen,
		OriginalSize: desc.OriginalSize,
		Filename:     desc.Filename,
	}); err != nil {
		return CreateAgreementResult{}, err
	}

	agreement := Agreement{
		AgreementID: agreementID,
		FileMetadata: FileMetadata{
			FileID:       desc.FileID,
			Root:         desc.Root,
			PaddedLen:    desc.PaddedLen,
			OriginalSize: desc.OriginalSize,
			Filename:     desc.Filename,
		},
		Active:    false,
		Nodes:     map[string]bool{},
		NodeCount: 0,
	}
	if err := agreements.Set(wctx, agreementID, agreement); err != nil {
		return CreateAgreementResult{}, err
	}

	r, err := root(wctx)
	if err != nil {
		return CreateAgreementResult{}, err
	}
	countField, err := r.Field("AgreementCount")
	if err != nil {
		return CreateAgreementResult{}, err
	}
	var count uint64
	if _, err := countField.Get(&count); err != nil {
		return CreateAgreementResult{}, err
	}
	if err := countField.Set(wctx, count+1); err != nil {
		return CreateAgreementResult{}, err
	}

	return CreateAgreementResult{AgreementID: agreementID}, nil
}

// GetAgreement implements the exported get_agreement operation.
func GetAgreement(ctx contractmodel.ReadContext, agreementID string) (Agreement, bool, error) {
	agreements, err := agreementsMap(ctx)
	if err != nil {
		return Agreement{}, false, err
	}
	var a Agreement
	found, err := agreements.LoadOne(agreementID, &a)
	return a, found, err
}

// AgreementCount implements the exported agreement_count operation.
func AgreementCount(ctx contractmodel.ReadContext) (uint64, error) {
	r, err := root(ctx)
	if err != nil {
		return 0, err
	}
	f, err := r.Field("AgreementCount")
	if err != nil {
		return 0, err
	}
	var count uint64
	_, err = f.Get(&count)
	return count, err
}

// GetAllActiveAgreements implements the exported get_all_active_agreements operation.
func GetAllActiveAgreements(ctx contractmodel.ReadContext) ([]Agreement, error) {
	agreements, err := agreementsMap(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := agreements.Keys()
	if err != nil {
		return nil, err
	}
	var out []Agreement
	for _, id := range keys {
		var a Agreement
		found, err := agreements.LoadOne(id, &a)
		if err != nil {
			return nil, err
		}
		if found && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// JoinAgreement implements the exported join_agreement operation.
func JoinAgreement(wctx contractmodel.WriteContext, agreementID, nodeID string) (JoinAgreementResult, error) {
	agreements, err := agreementsMap(wctx)
	if err != nil {
		return JoinAgreementResult{}, err
	}
	var a Agreement
	found, err := agreements.LoadOne(agreementID, &a)
	if err != nil {
		return JoinAgreementResult{}, err
	}
	if !found {
		return JoinAgreementResult{}, kerrors.Validation("filestorage: agreement not found "+agreementID, nil)
	}
	if a.Nodes[nodeID] {
		return JoinAgreementResult{}, kerrors.Validation("filestorage: node already in agreement", nil)
	}

	entry := agreements.At(agreementID)
	nodesField, err := entry.Field("Nodes")
	if err != nil {
		return JoinAgreementResult{}, err
	}
	nodes, err := nodesField.Map()
	if err != nil {
		return JoinAgreementResult{}, err
	}
	if err := nodes.Set(wctx, nodeID, true); err != nil {
		return JoinAgreementResult{}, err
	}

	countField, err := entry.Field("NodeCount")
	if err != nil {
		return JoinAgreementResult{}, err
	}
	nodeCount := a.NodeCount + 1
	if err := countField.Set(wctx, nodeCount); err != nil {
		return JoinAgreementResult{}, err
	}

	var minNodes uint64
	r, err := root(wctx)
	if err != nil {
		return JoinAgreementResult{}, err
	}
	minField, err := r.Field("MinNodes")
	if err != nil {
		return JoinAgreementResult{}, err
	}
	if _, err := minField.Get(&minNodes); err != nil {
		return JoinAgreementResult{}, err
	}

	activated := !a.Active && nodeCount >= minNodes
	if activated {
		activeField, err := entry.Field("Active")
		if err != nil {
			return JoinAgreementResult{}, err
		}
		if err := activeField.Set(wctx, true); err != nil {
			return JoinAgreementResult{}, err
		}
	}

	return JoinAgreementResult{AgreementID: agreementID, NodeID: nodeID, Activated: activated}, nil
}

// LeaveAgreement implements the exported leave_agreement operation: the
// node's membership entry is flipped to false rather than removed, to
// keep with the append-only storage model.
func LeaveAgreement(wctx contractmodel.WriteContext, agreementID, nodeID string) (LeaveAgreementResult, error) {
	agreements, err := agreementsMap(wctx)
	if err != nil {
		return LeaveAgreementResult{}, err
	}
	var a Agreement
	found, err := agreements.LoadOne(agreementID, &a)
	if err != nil {
		return LeaveAgreementResult{}, err
	}
	if !found {
		return LeaveAgreementResult{}, kerrors.Validation("filestorage: agreement not found "+agreementID, nil)
	}
	if !a.Nodes[nodeID] {
		return LeaveAgreementResult{}, kerrors.Validation("filestorage: node not in agreement", nil)
	}

	entry := agreements.At(agreementID)
	nodesField, err := entry.Field("Nodes")
	if err != nil {
		return LeaveAgreementResult{}, err
	}
	nodes, err := nodesField.Map()
	if err != nil {
		return LeaveAgreementResult{}, err
	}
	if err := nodes.Set(wctx, nodeID, false); err != nil {
		return LeaveAgreementResult{}, err
	}

	countField, err := entry.Field("NodeCount")
	if err != nil {
		return LeaveAgreementResult{}, err
	}
	newCount := a.NodeCount
	if newCount > 0 {
		newCount--
	}
	if err := countField.Set(wctx, newCount); err != nil {
		return LeaveAgreementResult{}, err
	}

	return LeaveAgreementResult{AgreementID: agreementID, NodeID: nodeID}, nil
}

// GetAgreementNodes implements the exported get_agreement_nodes
// operation, returning only currently-active members.
func GetAgreementNodes(ctx contractmodel.ReadContext, agreementID string) ([]string, bool, error) {
	agreements, err := agreementsMap(ctx)
	if err != nil {
		return nil, false, err
	}
	var a Agreement
	found, err := agreements.LoadOne(agreementID, &a)
	if err != nil || !found {
		return nil, found, err
	}
	var active []string
	for id, isActive := range a.Nodes {
		if isActive {
			active = append(active, id)
		}
	}
	return active, true, nil
}

// IsNodeInAgreement implements the exported is_node_in_agreement operation.
func IsNodeInAgreement(ctx contractmodel.ReadContext, agreementID, nodeID string) (bool, error) {
	agreements, err := agreementsMap(ctx)
	if err != nil {
		return false, err
	}
	var a Agreement
	found, err := agreements.LoadOne(agreementID, &a)
	if err != nil || !found {
		return false, err
	}
	return a.Nodes[nodeID], nil
}

// GetMinNodes implements the exported get_min_nodes operation.
func GetMinNodes(ctx contractmodel.ReadContext) (uint64, error) {
	r, err := root(ctx)
	if err != nil {
		return 0, err
	}
	f, err := r.Field("MinNodes")
	if err != nil {
		return 0, err
	}
	var n uint64
	_, err = f.Get(&n)
	return n, err
}

// CreateChallenge implements the exported create_challenge operation.
func CreateChallenge(wctx contractmodel.WriteContext, challengeID, agreementID, nodeID string, issuedHeight uint64, seed []byte, numChallenges uint64) (Challenge, error) {
	challenges, err := challengesMap(wctx)
	if err != nil {
		return Challenge{}, err
	}
	var existing Challenge
	found, err := challenges.LoadOne(challengeID, &existing)
	if err != nil {
		return Challenge{}, err
	}
	if found {
		return Challenge{}, kerrors.Validation("filestorage: challenge already exists "+challengeID, nil)
	}

	agreements, err := agreementsMap(wctx)
	if err != nil {
		return Challenge{}, err
	}
	var a Agreement
	found, err = agreements.LoadOne(agreementID, &a)
	if err != nil {
		return Challenge{}, err
	}
	if !found {
		return Challenge{}, kerrors.Validation("filestorage: agreement not found "+agreementID, nil)
	}
	if !a.Active {
		return Challenge{}, kerrors.Validation("filestorage: agreement not active "+agreementID, nil)
	}
	if !a.Nodes[nodeID] {
		return Challenge{}, kerrors.Validation("filestorage: node not in agreement", nil)
	}

	r, err := root(wctx)
	if err != nil {
		return Challenge{}, err
	}
	deadlineField, err := r.Field("ChallengeDeadlineBlocks")
	if err != nil {
		return Challenge{}, err
	}
	var deadlineBlocks uint64
	if _, err := deadlineField.Get(&deadlineBlocks); err != nil {
		return Challenge{}, err
	}

	challenge := Challenge{
		ChallengeID:    challengeID,
		AgreementID:    agreementID,
		FileID:         a.FileMetadata.FileID,
		NodeID:         nodeID,
		IssuedHeight:   issuedHeight,
		DeadlineHeight: issuedHeight + deadlineBlocks,
		Seed:           seed,
		NumChallenges:  numChallenges,
		Status:         StatusActive,
	}
	if err := challenges.Set(wctx, challengeID, challenge); err != nil {
		return Challenge{}, err
	}
	return challenge, nil
}

// GetChallenge implements the exported get_challenge operation.
func GetChallenge(ctx contractmodel.ReadContext, challengeID string) (Challenge, bool, error) {
	challenges, err := challengesMap(ctx)
	if err != nil {
		return Challenge{}, false, err
	}
	var c Challenge
	found, err := challenges.LoadOne(challengeID, &c)
	return c, found, err
}

func filterChallenges(ctx contractmodel.ReadContext, keep func(Challenge) bool) ([]Challenge, error) {
	challenges, err := challengesMap(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := challenges.Keys()
	if err != nil {
		return nil, err
	}
	var out []Challenge
	for _, id := range keys {
		var c Challenge
		found, err := challenges.LoadOne(id, &c)
		if err != nil {
			return nil, err
		}
		if found && keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetActiveChallenges implements the exported get_active_challenges operation.
func GetActiveChallenges(ctx contractmodel.ReadContext) ([]Challenge, error) {
	return filterChallenges(ctx, func(c Challenge) bool { return c.Status == StatusActive })
}

// GetChallengesForNode implements the exported get_challenges_for_node operation.
func GetChallengesForNode(ctx contractmodel.ReadContext, nodeID string) ([]Challenge, error) {
	return filterChallenges(ctx, func(c Challenge) bool {
		return c.NodeID == nodeID && c.Status == StatusActive
	})
}

// ExpireChallenges implements the exported expire_challenges operation.
func ExpireChallenges(wctx contractmodel.WriteContext, currentHeight uint64) error {
	challenges, err := challengesMap(wctx)
	if err != nil {
		return err
	}
	keys, err := challenges.Keys()
	if err != nil {
		return err
	}
	for _, id := range keys {
		var c Challenge
		found, err := challenges.LoadOne(id, &c)
		if err != nil {
			return err
		}
		if found && c.Status == StatusActive && c.DeadlineHeight <= currentHeight {
			statusField, err := challenges.At(id).Field("Status")
			if err != nil {
				return err
			}
			if err := statusField.Set(wctx, StatusExpired); err != nil {
				return err
			}
		}
	}
	return nil
}

// SubmitProof dispatches each challenge to a pluggable Verifier: proof
// generation itself is out of scope here, only the verification hook.
func SubmitProof(wctx contractmodel.WriteContext, verifier Verifier, challengeIDs []string, proof []byte) (SubmitProofResult, error) {
	challenges, err := challengesMap(wctx)
	if err != nil {
		return SubmitProofResult{}, err
	}

	results := make(map[string]ChallengeStatus, len(challengeIDs))
	for _, id := range challengeIDs {
		var c Challenge
		found, err := challenges.LoadOne(id, &c)
		if err != nil {
			return SubmitProofResult{}, err
		}
		if !found {
			return SubmitProofResult{}, kerrors.Validation("filestorage: challenge not found "+id, nil)
		}
		if c.Status != StatusActive {
			results[id] = c.Status
			continue
		}

		valid, err := verifier.VerifyProof(id, c.Seed, c.NumChallenges, proof)
		if err != nil {
			return SubmitProofResult{}, kerrors.Contract("filestorage: proof verification failed", err)
		}

		newStatus := StatusBadProof
		if valid {
			newStatus = StatusProven
		}
		statusField, err := challenges.At(id).Field("Status")
		if err != nil {
			return SubmitProofResult{}, err
		}
		if err := statusField.Set(wctx, newStatus); err != nil {
			return SubmitProofResult{}, err
		}
		results[id] = newStatus
	}

	return SubmitProofResult{Results: results}, nil
}
