package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"bountyScope/internal/model"
)

var ErrUnsupportedTopic = errors.New("unsupported topic0")

// Decoder turns raw bounty module logs into IndexedEvents.
type Decoder struct {
	bountyABI   abi.ABI
	topicToName map[string]string
}

func NewDecoder() (*Decoder, error) {
	parsed, err := BountyABI()
	if err != nil {
		return nil, err
	}

	topicToName := map[string]string{
		strings.ToLower(parsed.Events[model.KindBountyInitialized].ID.Hex()): model.KindBountyInitialized,
		strings.ToLower(parsed.Events[model.KindBountyPaid].ID.Hex()):        model.KindBountyPaid,
	}

	return &Decoder{
		bountyABI:   parsed,
		topicToName: topicToName,
	}, nil
}

// Topics returns the topic0 filter covering every event the decoder handles.
func (d *Decoder) Topics() []common.Hash {
	return []common.Hash{
		d.bountyABI.Events[model.KindBountyInitialized].ID,
		d.bountyABI.Events[model.KindBountyPaid].ID,
	}
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into an IndexedEvent.
func (d *Decoder) Decode(log model.LogRecord) (*model.IndexedEvent, error) {
	name, ok := d.topicToName[strings.ToLower(log.Topic0())]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTopic, log.Topic0())
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid contract address: %s", log.Address)
	}
	if !isTxHash(log.TxHash) {
		return nil, fmt.Errorf("invalid tx hash: %q", log.TxHash)
	}

	event := buildIndexedEvent(log, name)
	switch name {
	case model.KindBountyInitialized:
		decoded, err := d.decodeInitialized(log)
		if err != nil {
			return nil, err
		}
		event.ProfileID = decoded.ProfileID
		event.PubID = decoded.PubID
		event.Currency = decoded.Currency
		event.Amount = decoded.Amount
		event.Asker = decoded.Asker
	case model.KindBountyPaid:
		decoded, err := d.decodePaid(log)
		if err != nil {
			return nil, err
		}
		event.ProfileID = decoded.ProfileID
		event.PubID = decoded.PubID
		event.ExpertAddress = decoded.ExpertAddress
		event.Amount = decoded.Amount
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
	return event, nil
}

func buildIndexedEvent(log model.LogRecord, name string) *model.IndexedEvent {
	return &model.IndexedEvent{
		ID:             log.ID(),
		Kind:           name,
		ChainID:        log.ChainID,
		Contract:       common.HexToAddress(log.Address).Hex(),
		BlockNumber:    log.BlockNumber,
		BlockHash:      log.BlockHash,
		BlockTimestamp: log.Timestamp,
		TxHash:         strings.ToLower(log.TxHash),
		LogIndex:       log.LogIndex,
	}
}

type publicationTopics struct {
	ProfileId *big.Int
	PubId     *big.Int
}

func (d *Decoder) decodeInitialized(log model.LogRecord) (model.BountyInitializedData, error) {
	event := d.bountyABI.Events[model.KindBountyInitialized]
	indexed, err := parsePublicationTopics(event, log.Topics)
	if err != nil {
		return model.BountyInitializedData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.BountyInitializedData{}, err
	}
	if len(values) != 3 {
		return model.BountyInitializedData{}, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}

	currency, err := asAddress(values[0])
	if err != nil {
		return model.BountyInitializedData{}, err
	}
	amount, err := asBigInt(values[1])
	if err != nil {
		return model.BountyInitializedData{}, err
	}
	asker, err := asAddress(values[2])
	if err != nil {
		return model.BountyInitializedData{}, err
	}

	return model.BountyInitializedData{
		ProfileID: indexed.ProfileId.String(),
		PubID:     indexed.PubId.String(),
		Currency:  currency.Hex(),
		Amount:    amount.String(),
		Asker:     asker.Hex(),
	}, nil
}

func (d *Decoder) decodePaid(log model.LogRecord) (model.BountyPaidData, error) {
	event := d.bountyABI.Events[model.KindBountyPaid]
	indexed, err := parsePublicationTopics(event, log.Topics)
	if err != nil {
		return model.BountyPaidData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.BountyPaidData{}, err
	}
	if len(values) != 2 {
		return model.BountyPaidData{}, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}

	expert, err := asAddress(values[0])
	if err != nil {
		return model.BountyPaidData{}, err
	}
	amount, err := asBigInt(values[1])
	if err != nil {
		return model.BountyPaidData{}, err
	}

	return model.BountyPaidData{
		ProfileID:     indexed.ProfileId.String(),
		PubID:         indexed.PubId.String(),
		ExpertAddress: expert.Hex(),
		Amount:        amount.String(),
	}, nil
}

func parsePublicationTopics(event abi.Event, topics []string) (publicationTopics, error) {
	indexedArgs := indexedArguments(event.Inputs)
	if len(topics) != len(indexedArgs)+1 {
		return publicationTopics{}, fmt.Errorf("expected %d topics, got %d", len(indexedArgs)+1, len(topics))
	}
	hashes, err := parseTopicHashes(topics[1:])
	if err != nil {
		return publicationTopics{}, err
	}
	var out publicationTopics
	if err := abi.ParseTopics(&out, indexedArgs, hashes); err != nil {
		return publicationTopics{}, fmt.Errorf("parse topics: %w", err)
	}
	if out.ProfileId == nil || out.PubId == nil {
		return publicationTopics{}, fmt.Errorf("missing publication topics")
	}
	return out, nil
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) != common.HashLength {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func isTxHash(s string) bool {
	data, err := hexutil.Decode(s)
	return err == nil && len(data) == common.HashLength
}
