package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// livemintABI covers the calls and events the writer needs from the Livemint
// contract. A full Foundry artifact can replace it through Config.ABIPath.
const livemintABI = `[
  {"type":"function","name":"setTokenURI","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"tokenURI","type":"string"}],"outputs":[]},
  {"type":"event","name":"TokenURIUpdateFailed","anonymous":false,
   "inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"reason","type":"string","indexed":false}]},
  {"type":"event","name":"MetadataUpdate","anonymous":false,
   "inputs":[{"name":"_tokenId","type":"uint256","indexed":false}]}
]`

const setTokenURIMethod = "setTokenURI"

// DefaultABI returns the built-in contract ABI.
func DefaultABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(livemintABI))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid built-in ABI: %v", err))
	}
	return parsed
}

// LoadABI reads a contract ABI from path. Both a bare ABI array and a Foundry
// build artifact ({"abi": [...]}) are accepted.
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi: %w", err)
	}

	raw := data
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(data, &artifact); err == nil && len(artifact.ABI) > 0 {
		raw = artifact.ABI
	}

	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	if _, ok := parsed.Methods[setTokenURIMethod]; !ok {
		return abi.ABI{}, fmt.Errorf("abi %s has no %s method", path, setTokenURIMethod)
	}
	return parsed, nil
}
