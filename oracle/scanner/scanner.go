package scanner

import (
	"context"
	"errors"

	errorsmod "cosmossdk.io/errors"

	"github.com/GPTx-global/near-oracle/oracle/log"
	"github.com/GPTx-global/near-oracle/oracle/rpc"
	"github.com/GPTx-global/near-oracle/oracle/types"
)

// Querier runs a read-only contract call. *rpc.Client implements it.
type Querier interface {
	Call(ctx context.Context, req rpc.CallRequest) (*rpc.CallResult, error)
}

// Scanner fetches the pending requests of the oracle contract.
type Scanner struct {
	querier Querier
	request rpc.CallRequest
}

func New(querier Querier, contract, method string, args []byte) *Scanner {
	return &Scanner{
		querier: querier,
		request: rpc.CallRequest{Contract: contract, Method: method, Args: args},
	}
}

func (s *Scanner) Request() rpc.CallRequest {
	return s.request
}

// Fetch queries the contract once and decodes the result.
func (s *Scanner) Fetch(ctx context.Context) (*types.RequestSet, error) {
	res, err := s.querier.Call(ctx, s.request)
	if err != nil {
		if errors.Is(err, types.ErrNetwork) {
			return nil, err
		}
		return nil, errorsmod.Wrapf(types.ErrNetwork, "query %s: %v", s.request.Path(), err)
	}

	set, err := Decode(Payload(res.Result))
	if err != nil {
		return nil, err
	}

	for _, req := range set.Requests() {
		log.Debugf("Item %s is: %s", req.ID, req.Fields)
	}
	log.Debugf("fetched %d requests at block %d", set.Len(), res.BlockHeight)

	return set, nil
}
