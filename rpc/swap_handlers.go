package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"swaplock/native/swap"
)

// route resolves a method name to its handler and reports whether it mutates
// engine state (and therefore needs auth, rate limiting and a commit).
func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case "swap_lockBuy":
		return s.handleLockBuy, true
	case "swap_lockSell":
		return s.handleLockSell, true
	case "swap_lockSellProxy":
		return s.handleLockSellProxy, true
	case "swap_lockSellDirect":
		return s.handleLockSellDirect, true
	case "swap_declineByRecipient":
		return s.handleDeclineByRecipient, true
	case "swap_unlockBySender":
		return s.handleUnlockBySender, true
	case "swap_unlockByRecipient":
		return s.handleUnlockByRecipient, true
	case "swap_unlockByRecipientProxy":
		return s.handleUnlockByRecipientProxy, true
	case "swap_timeoutValue":
		return s.handleTimeoutValue, true
	case "swap_timeoutValueProxy":
		return s.handleTimeoutValueProxy, true
	case "swap_timeoutStash":
		return s.handleTimeoutStash, true
	case "swap_timeoutStashProxy":
		return s.handleTimeoutStashProxy, true
	case "swap_depositStash":
		return s.handleDepositStash, true
	case "swap_withdrawStash":
		return s.handleWithdrawStash, true
	case "swap_moveStash":
		return s.handleMoveStash, true
	case "swap_getLockValue":
		return s.handleGetLockValue, false
	case "swap_getStashValue":
		return s.handleGetStashValue, false
	case "swap_getStashes":
		return s.handleGetStashes, false
	}
	return nil, false
}

// --- param/result DTOs ---

type lockBuyParams struct {
	Caller       string `json:"caller"`
	Recipient    string `json:"recipient"`
	HashedSecret string `json:"hashedSecret"`
	Timeout      uint64 `json:"timeout"`
	SellAssetID  string `json:"sellAssetId"`
	SellPrice    string `json:"sellPrice"`
	Amount       string `json:"amount"`
	Token        string `json:"token,omitempty"`
}

type lockSellParams struct {
	Caller       string `json:"caller"`
	Account      string `json:"account,omitempty"`
	Recipient    string `json:"recipient"`
	HashedSecret string `json:"hashedSecret"`
	Timeout      uint64 `json:"timeout"`
	StashAssetID string `json:"stashAssetId"`
	Amount       string `json:"amount"`
	BuyLockID    string `json:"buyLockId,omitempty"`
	Token        string `json:"token,omitempty"`
}

type lockResult struct {
	LockID string `json:"lockId"`
}

type declineParams struct {
	Caller       string `json:"caller"`
	Sender       string `json:"sender"`
	HashedSecret string `json:"hashedSecret"`
	Timeout      uint64 `json:"timeout"`
	Token        string `json:"token,omitempty"`
}

type unlockParams struct {
	Caller    string `json:"caller"`
	Account   string `json:"account,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Secret    string `json:"secret"`
	Timeout   uint64 `json:"timeout"`
	Token     string `json:"token,omitempty"`
}

type timeoutParams struct {
	Caller       string `json:"caller"`
	Account      string `json:"account,omitempty"`
	Recipient    string `json:"recipient"`
	HashedSecret string `json:"hashedSecret"`
	Timeout      uint64 `json:"timeout"`
	StashAssetID string `json:"stashAssetId,omitempty"`
	Token        string `json:"token,omitempty"`
}

type stashParams struct {
	Caller    string `json:"caller"`
	AssetID   string `json:"assetId"`
	FromAsset string `json:"fromAssetId,omitempty"`
	ToAsset   string `json:"toAssetId,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Token     string `json:"token,omitempty"`
}

type lockQueryParams struct {
	LockID       string `json:"lockId,omitempty"`
	Sender       string `json:"sender,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	HashedSecret string `json:"hashedSecret,omitempty"`
	Timeout      uint64 `json:"timeout,omitempty"`
	Token        string `json:"token,omitempty"`
}

type stashQueryParams struct {
	AssetID string `json:"assetId"`
	Owner   string `json:"owner,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Token   string `json:"token,omitempty"`
}

type valueResult struct {
	Value string `json:"value"`
}

type stashEntryJSON struct {
	Account string `json:"account"`
	Value   string `json:"value"`
}

// --- parsing helpers ---

func decodeParams(params []json.RawMessage, dst interface{}) *RPCError {
	if len(params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected a single params object"}
	}
	if err := json.Unmarshal(params[0], dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "malformed params: " + err.Error()}
	}
	return nil
}

func parseAddress(value, field string) (common.Address, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s address", field)}
	}
	return common.HexToAddress(trimmed), nil
}

func parseToken(value string) (common.Address, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, "native") {
		return swap.NativeToken, nil
	}
	return parseAddress(trimmed, "token")
}

func parseHash(value, field string) (common.Hash, *RPCError) {
	trimmed := strings.TrimSpace(value)
	raw, err := hexutil.Decode(trimmed)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s hash", field)}
	}
	return common.BytesToHash(raw), nil
}

func parseAmount(value, field string) (*uint256.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("missing %s", field)}
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s amount", field)}
	}
	return amount, nil
}

func parseSecret(value string) ([]byte, *RPCError) {
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil || len(raw) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid secret"}
	}
	return raw, nil
}

// --- mutating handlers ---

func (s *Server) handleLockBuy(params []json.RawMessage) (interface{}, *RPCError) {
	var p lockBuyParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress(p.Recipient, "recipient")
	if rpcErr != nil {
		return nil, rpcErr
	}
	hashedSecret, rpcErr := parseHash(p.HashedSecret, "hashedSecret")
	if rpcErr != nil {
		return nil, rpcErr
	}
	sellAsset, rpcErr := parseHash(p.SellAssetID, "sellAssetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	sellPrice, rpcErr := parseAmount(p.SellPrice, "sellPrice")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, err := s.engine.LockBuy(caller, recipient, hashedSecret, p.Timeout, sellAsset, sellPrice, amount, token)
	if err != nil {
		return nil, engineError(err)
	}
	return lockResult{LockID: id.Hex()}, nil
}

func (s *Server) handleLockSell(params []json.RawMessage) (interface{}, *RPCError) {
	return s.lockSell(params, false)
}

func (s *Server) handleLockSellProxy(params []json.RawMessage) (interface{}, *RPCError) {
	return s.lockSell(params, true)
}

func (s *Server) lockSell(params []json.RawMessage, proxied bool) (interface{}, *RPCError) {
	var p lockSellParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress(p.Recipient, "recipient")
	if rpcErr != nil {
		return nil, rpcErr
	}
	hashedSecret, rpcErr := parseHash(p.HashedSecret, "hashedSecret")
	if rpcErr != nil {
		return nil, rpcErr
	}
	stashAsset, rpcErr := parseHash(p.StashAssetID, "stashAssetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	buyLockID := common.Hash{}
	if strings.TrimSpace(p.BuyLockID) != "" {
		buyLockID, rpcErr = parseHash(p.BuyLockID, "buyLockId")
		if rpcErr != nil {
			return nil, rpcErr
		}
	}
	var (
		id  common.Hash
		err error
	)
	if proxied {
		var account common.Address
		account, rpcErr = parseAddress(p.Account, "account")
		if rpcErr != nil {
			return nil, rpcErr
		}
		id, err = s.engine.LockSellProxy(caller, account, recipient, hashedSecret, p.Timeout, stashAsset, amount, buyLockID, token)
	} else {
		id, err = s.engine.LockSell(caller, recipient, hashedSecret, p.Timeout, stashAsset, amount, buyLockID, token)
	}
	if err != nil {
		return nil, engineError(err)
	}
	return lockResult{LockID: id.Hex()}, nil
}

func (s *Server) handleLockSellDirect(params []json.RawMessage) (interface{}, *RPCError) {
	var p lockSellParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress(p.Recipient, "recipient")
	if rpcErr != nil {
		return nil, rpcErr
	}
	hashedSecret, rpcErr := parseHash(p.HashedSecret, "hashedSecret")
	if rpcErr != nil {
		return nil, rpcErr
	}
	buyAsset, rpcErr := parseHash(p.StashAssetID, "stashAssetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	buyLockID := common.Hash{}
	if strings.TrimSpace(p.BuyLockID) != "" {
		buyLockID, rpcErr = parseHash(p.BuyLockID, "buyLockId")
		if rpcErr != nil {
			return nil, rpcErr
		}
	}
	id, err := s.engine.LockSellDirect(caller, recipient, hashedSecret, p.Timeout, buyAsset, amount, buyLockID, token)
	if err != nil {
		return nil, engineError(err)
	}
	return lockResult{LockID: id.Hex()}, nil
}

func (s *Server) handleDeclineByRecipient(params []json.RawMessage) (interface{}, *RPCError) {
	var p declineParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	sender, rpcErr := parseAddress(p.Sender, "sender")
	if rpcErr != nil {
		return nil, rpcErr
	}
	hashedSecret, rpcErr := parseHash(p.HashedSecret, "hashedSecret")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.DeclineByRecipient(caller, sender, hashedSecret, p.Timeout, token); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleUnlockBySender(params []json.RawMessage) (interface{}, *RPCError) {
	var p unlockParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress(p.Recipient, "recipient")
	if rpcErr != nil {
		return nil, rpcErr
	}
	secret, rpcErr := parseSecret(p.Secret)
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.UnlockBySender(caller, recipient, secret, p.Timeout, token); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleUnlockByRecipient(params []json.RawMessage) (interface{}, *RPCError) {
	return s.unlockByRecipient(params, false)
}

func (s *Server) handleUnlockByRecipientProxy(params []json.RawMessage) (interface{}, *RPCError) {
	return s.unlockByRecipient(params, true)
}

func (s *Server) unlockByRecipient(params []json.RawMessage, proxied bool) (interface{}, *RPCError) {
	var p unlockParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	sender, rpcErr := parseAddress(p.Sender, "sender")
	if rpcErr != nil {
		return nil, rpcErr
	}
	secret, rpcErr := parseSecret(p.Secret)
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var err error
	if proxied {
		var account common.Address
		account, rpcErr = parseAddress(p.Account, "account")
		if rpcErr != nil {
			return nil, rpcErr
		}
		err = s.engine.UnlockByRecipientProxy(caller, account, sender, secret, p.Timeout, token)
	} else {
		err = s.engine.UnlockByRecipient(caller, sender, secret, p.Timeout, token)
	}
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleTimeoutValue(params []json.RawMessage) (interface{}, *RPCError) {
	return s.timeout(params, false, false)
}

func (s *Server) handleTimeoutValueProxy(params []json.RawMessage) (interface{}, *RPCError) {
	return s.timeout(params, false, true)
}

func (s *Server) handleTimeoutStash(params []json.RawMessage) (interface{}, *RPCError) {
	return s.timeout(params, true, false)
}

func (s *Server) handleTimeoutStashProxy(params []json.RawMessage) (interface{}, *RPCError) {
	return s.timeout(params, true, true)
}

func (s *Server) timeout(params []json.RawMessage, toStash, proxied bool) (interface{}, *RPCError) {
	var p timeoutParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress(p.Recipient, "recipient")
	if rpcErr != nil {
		return nil, rpcErr
	}
	hashedSecret, rpcErr := parseHash(p.HashedSecret, "hashedSecret")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var account common.Address
	if proxied {
		account, rpcErr = parseAddress(p.Account, "account")
		if rpcErr != nil {
			return nil, rpcErr
		}
	}
	var err error
	switch {
	case toStash && proxied:
		var stashAsset common.Hash
		stashAsset, rpcErr = parseHash(p.StashAssetID, "stashAssetId")
		if rpcErr != nil {
			return nil, rpcErr
		}
		err = s.engine.TimeoutStashProxy(caller, account, recipient, hashedSecret, p.Timeout, stashAsset, token)
	case toStash:
		var stashAsset common.Hash
		stashAsset, rpcErr = parseHash(p.StashAssetID, "stashAssetId")
		if rpcErr != nil {
			return nil, rpcErr
		}
		err = s.engine.TimeoutStash(caller, recipient, hashedSecret, p.Timeout, stashAsset, token)
	case proxied:
		err = s.engine.TimeoutValueProxy(caller, account, recipient, hashedSecret, p.Timeout, token)
	default:
		err = s.engine.TimeoutValue(caller, recipient, hashedSecret, p.Timeout, token)
	}
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleDepositStash(params []json.RawMessage) (interface{}, *RPCError) {
	var p stashParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseHash(p.AssetID, "assetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.DepositStash(caller, asset, amount, token); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleWithdrawStash(params []json.RawMessage) (interface{}, *RPCError) {
	var p stashParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseHash(p.AssetID, "assetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var err error
	if strings.TrimSpace(p.Amount) == "" {
		err = s.engine.WithdrawStashAll(caller, asset, token)
	} else {
		var amount *uint256.Int
		amount, rpcErr = parseAmount(p.Amount, "amount")
		if rpcErr != nil {
			return nil, rpcErr
		}
		err = s.engine.WithdrawStash(caller, asset, amount, token)
	}
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleMoveStash(params []json.RawMessage) (interface{}, *RPCError) {
	var p stashParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	fromAsset, rpcErr := parseHash(p.FromAsset, "fromAssetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	toAsset, rpcErr := parseHash(p.ToAsset, "toAssetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.MoveStash(caller, fromAsset, toAsset, amount, token); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"ok": true}, nil
}

// --- read handlers ---

func (s *Server) handleGetLockValue(params []json.RawMessage) (interface{}, *RPCError) {
	var p lockQueryParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(p.LockID) != "" {
		id, rpcErr := parseHash(p.LockID, "lockId")
		if rpcErr != nil {
			return nil, rpcErr
		}
		return valueResult{Value: s.engine.LockValue(id).Dec()}, nil
	}
	sender, rpcErr := parseAddress(p.Sender, "sender")
	if rpcErr != nil {
		return nil, rpcErr
	}
	recipient, rpcErr := parseAddress(p.Recipient, "recipient")
	if rpcErr != nil {
		return nil, rpcErr
	}
	hashedSecret, rpcErr := parseHash(p.HashedSecret, "hashedSecret")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	value := s.engine.LockValueByParams(token, sender, recipient, hashedSecret, p.Timeout)
	return valueResult{Value: value.Dec()}, nil
}

func (s *Server) handleGetStashValue(params []json.RawMessage) (interface{}, *RPCError) {
	var p stashQueryParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseHash(p.AssetID, "assetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return valueResult{Value: s.engine.StashValueOf(token, asset, owner).Dec()}, nil
}

func (s *Server) handleGetStashes(params []json.RawMessage) (interface{}, *RPCError) {
	var p stashQueryParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	asset, rpcErr := parseHash(p.AssetID, "assetId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseToken(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if p.Offset < 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "negative offset"}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	entries := s.engine.Stashes(token, asset, p.Offset, limit)
	out := make([]stashEntryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, stashEntryJSON{Account: entry.Owner.Hex(), Value: entry.Amount.Dec()})
	}
	return out, nil
}
