package filestorage

import (
	"context"
	"encoding/json"

	"github.com/ouziel-slama/kontor/contractmodel"
	"github.com/ouziel-slama/kontor/kerrors"
	"github.com/ouziel-slama/kontor/ledger"
	"github.com/ouziel-slama/kontor/log"
	"github.com/ouziel-slama/kontor/reactor"
)

var logger = log.NewModuleLogger(log.ContractModel)

// contractName is the marker this runtime recognizes in a Publish op's
// name field.
const contractName = "filestorage"

// Instruction is the Call op's expr payload: a method name plus its
// JSON-encoded arguments, standing in for the WIT-generated dispatch
// table a real contract VM would use to route a Call op to one of this
// contract's exported functions.
type Instruction struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// Runtime wires contractmodel's storage accessors, the file ledger,
// and a pluggable proof verifier into one reactor.Runtime
// implementation.
type Runtime struct {
	ledger   *ledger.Ledger
	verifier Verifier
}

// New builds the filestorage contract runtime. verifier may be nil, in
// which case StubVerifier is used.
func New(led *ledger.Ledger, verifier Verifier) *Runtime {
	if verifier == nil {
		verifier = StubVerifier{}
	}
	return &Runtime{ledger: led, verifier: verifier}
}

var _ reactor.Runtime = (*Runtime)(nil)

// Publish implements the contract's init entry point: a contract whose
// published name is "filestorage" gets its ProtocolState bootstrapped
// with the protocol defaults. Any other name is a per-op ContractError,
// which the reactor logs at warn and does not let poison the enclosing
// block.
func (r *Runtime) Publish(ctx context.Context, rc reactor.RunContext, name string, bytes []byte) error {
	if name != contractName {
		return kerrors.Contract("filestorage: unrecognized contract name "+name, nil)
	}
	wctx := contractmodel.NewStoreContext(rc)
	return initState(wctx)
}

// Call implements Guest's exported proc functions: it decodes the op's
// expr as an Instruction and dispatches to the matching handler.
func (r *Runtime) Call(ctx context.Context, rc reactor.RunContext, expr []byte) error {
	var ins Instruction
	if err := json.Unmarshal(expr, &ins); err != nil {
		return kerrors.Contract("filestorage: malformed instruction", err)
	}
	wctx := contractmodel.NewStoreContext(rc)

	switch ins.Method {
	case "create_agreement":
		var args RawFileDescriptor
		if err := json.Unmarshal(ins.Args, &args); err != nil {
			return kerrors.Contract("filestorage: create_agreement args", err)
		}
		_, err := CreateAgreement(wctx, r.ledger, rc.Height, args)
		return err

	case "join_agreement":
		var args struct {
			AgreementID string `json:"agreement_id"`
			NodeID      string `json:"node_id"`
		}
		if err := json.Unmarshal(ins.Args, &args); err != nil {
			return kerrors.Contract("filestorage: join_agreement args", err)
		}
		_, err := JoinAgreement(wctx, args.AgreementID, args.NodeID)
		return err

	case "leave_agreement":
		var args struct {
			AgreementID string `json:"agreement_id"`
			NodeID      string `json:"node_id"`
		}
		if err := json.Unmarshal(ins.Args, &args); err != nil {
			return kerrors.Contract("filestorage: leave_agreement args", err)
		}
		_, err := LeaveAgreement(wctx, args.AgreementID, args.NodeID)
		return err

	case "create_challenge":
		var args struct {
			ChallengeID   string `json:"challenge_id"`
			AgreementID   string `json:"agreement_id"`
			NodeID        string `json:"node_id"`
			IssuedHeight  uint64 `json:"issued_height"`
			Seed          []byte `json:"seed"`
			NumChallenges uint64 `json:"num_challenges"`
		}
		if err := json.Unmarshal(ins.Args, &args); err != nil {
			return kerrors.Contract("filestorage: create_challenge args", err)
		}
		_, err := CreateChallenge(wctx, args.ChallengeID, args.AgreementID, args.NodeID, args.IssuedHeight, args.Seed, args.NumChallenges)
		return err

	case "expire_challenges":
		var args struct {
			CurrentHeight uint64 `json:"current_height"`
		}
		if err := json.Unmarshal(ins.Args, &args); err != nil {
			return kerrors.Contract("filestorage: expire_challenges args", err)
		}
		return ExpireChallenges(wctx, args.CurrentHeight)

	case "submit_proof":
		var args struct {
			ChallengeIDs []string `json:"challenge_ids"`
			Proof        []byte   `json:"proof"`
		}
		if err := json.Unmarshal(ins.Args, &args); err != nil {
			return kerrors.Contract("filestorage: submit_proof args", err)
		}
		_, err := SubmitProof(wctx, r.verifier, args.ChallengeIDs, args.Proof)
		return err

	default:
		return kerrors.Contract("filestorage: unknown method "+ins.Method, nil)
	}
}

// Issuance is not part of filestorage's surface.
func (r *Runtime) Issuance(ctx context.Context, rc reactor.RunContext) error {
	return kerrors.Contract("filestorage: issuance op not supported", nil)
}

func initState(wctx contractmodel.WriteContext) error {
	root, err := contractmodel.NewWrapper(wctx, contractmodel.RootPath(), ProtocolState{})
	if err != nil {
		return err
	}
	minNodes, err := root.Field("MinNodes")
	if err != nil {
		return err
	}
	if err := minNodes.Set(wctx, DefaultMinNodes); err != nil {
		return err
	}
	deadline, err := root.Field("ChallengeDeadlineBlocks")
	if err != nil {
		return err
	}
	if err := deadline.Set(wctx, DefaultChallengeDeadlineBlocks); err != nil {
		return err
	}
	count, err := root.Field("AgreementCount")
	if err != nil {
		return err
	}
	return count.Set(wctx, uint64(0))
}
