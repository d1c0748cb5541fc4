package contract

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const bountyABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "profileId", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "pubId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "currency", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "asker", "type": "address"}
    ],
    "name": "BountyInitialized",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "profileId", "type": "uint256"},
      {"indexed": true, "internalType": "uint256", "name": "pubId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "expertAddress", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "BountyPaid",
    "type": "event"
  }
]`

const acceptanceABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  }
]`

var (
	bountyABI     abi.ABI
	bountyABIOnce sync.Once
	bountyABIErr  error

	acceptanceABI     abi.ABI
	acceptanceABIOnce sync.Once
	acceptanceABIErr  error
)

// BountyABI returns the parsed event ABI of the bounty action module.
func BountyABI() (abi.ABI, error) {
	bountyABIOnce.Do(func() {
		bountyABI, bountyABIErr = abi.JSON(strings.NewReader(bountyABIJSON))
	})
	return bountyABI, bountyABIErr
}

// AcceptanceABI returns the parsed event ABI of the acceptance NFT.
func AcceptanceABI() (abi.ABI, error) {
	acceptanceABIOnce.Do(func() {
		acceptanceABI, acceptanceABIErr = abi.JSON(strings.NewReader(acceptanceABIJSON))
	})
	return acceptanceABI, acceptanceABIErr
}
