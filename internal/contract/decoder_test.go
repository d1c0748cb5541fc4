package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyScope/internal/acceptance"
	"bountyScope/internal/bounty"
	"bountyScope/internal/model"
)

var (
	moduleAddr = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	nftAddr    = common.HexToAddress("0x000000000000000000000000000000000000f00d")
	tokenX     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	asker      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	expert     = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestDecodeRecordedLogs(t *testing.T) {
	rec := &LogRecorder{BountyModule: moduleAddr, AcceptanceNFT: nftAddr}
	rec.BeginTx(100, common.HexToHash("0x01"))
	rec.Emit(bounty.Initialized{
		ProfileID: big.NewInt(1),
		PubID:     big.NewInt(2),
		Currency:  tokenX,
		Amount:    big.NewInt(100),
		Asker:     asker,
	})
	rec.BeginTx(101, common.HexToHash("0x02"))
	rec.Emit(acceptance.Transfer{To: expert, TokenID: big.NewInt(0)})
	rec.Emit(bounty.Paid{
		ProfileID: big.NewInt(1),
		PubID:     big.NewInt(2),
		Expert:    expert,
		Amount:    big.NewInt(100),
	})
	require.NoError(t, rec.Err())

	logs := rec.Logs()
	require.Len(t, logs, 3)
	assert.Equal(t, nftAddr, logs[1].Address)
	assert.Equal(t, uint(1), logs[2].Index)

	decoder, err := NewDecoder()
	require.NoError(t, err)

	initialized, err := decoder.Decode(toRecord(logs[0]))
	require.NoError(t, err)
	assert.Equal(t, model.KindBountyInitialized, initialized.Kind)
	assert.Equal(t, "1", initialized.ProfileID)
	assert.Equal(t, "2", initialized.PubID)
	assert.Equal(t, tokenX.Hex(), initialized.Currency)
	assert.Equal(t, "100", initialized.Amount)
	assert.Equal(t, asker.Hex(), initialized.Asker)
	assert.Equal(t, uint64(100), initialized.BlockNumber)
	assert.Equal(t, model.EventID(common.HexToHash("0x01").Hex(), 0), initialized.ID)

	assert.False(t, decoder.CanDecode(logs[1].Topics[0].Hex()))
	_, err = decoder.Decode(toRecord(logs[1]))
	assert.ErrorIs(t, err, ErrUnsupportedTopic)

	paid, err := decoder.Decode(toRecord(logs[2]))
	require.NoError(t, err)
	assert.Equal(t, model.KindBountyPaid, paid.Kind)
	assert.Equal(t, expert.Hex(), paid.ExpertAddress)
	assert.Equal(t, "100", paid.Amount)
	assert.Empty(t, paid.Asker)
	assert.Equal(t, uint64(1), paid.LogIndex)
}

func TestDecodeMalformed(t *testing.T) {
	decoder, err := NewDecoder()
	require.NoError(t, err)

	log, err := EncodeLog(moduleAddr, bounty.Paid{
		ProfileID: big.NewInt(1),
		PubID:     big.NewInt(1),
		Expert:    expert,
		Amount:    big.NewInt(5),
	})
	require.NoError(t, err)
	log.TxHash = common.HexToHash("0x0a")

	truncated := toRecord(log)
	truncated.Data = hexutil.Encode(log.Data[:32])
	_, err = decoder.Decode(truncated)
	assert.Error(t, err)

	missingTopic := toRecord(log)
	missingTopic.Topics = missingTopic.Topics[:2]
	_, err = decoder.Decode(missingTopic)
	assert.Error(t, err)

	badHash := toRecord(log)
	badHash.TxHash = "0xdef"
	_, err = decoder.Decode(badHash)
	assert.Error(t, err)

	_, err = decoder.Decode(model.LogRecord{})
	assert.ErrorIs(t, err, ErrUnsupportedTopic)
}

func TestTopicsMatchABI(t *testing.T) {
	decoder, err := NewDecoder()
	require.NoError(t, err)
	topics := decoder.Topics()
	require.Len(t, topics, 2)
	for _, topic := range topics {
		assert.True(t, decoder.CanDecode(topic.Hex()))
	}
}

func toRecord(log types.Log) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}
	return model.LogRecord{
		ChainID:     137,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Timestamp:   1700000000,
	}
}
