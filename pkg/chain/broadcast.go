package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoDeployment is returned when a broadcast file records no contract creation.
var ErrNoDeployment = errors.New("broadcast file has no CREATE transaction")

type broadcastFile struct {
	Transactions []struct {
		TransactionType string `json:"transactionType"`
		ContractName    string `json:"contractName"`
		ContractAddress string `json:"contractAddress"`
	} `json:"transactions"`
}

// AddressFromBroadcast returns the address of the first contract created in a
// Foundry broadcast file (broadcast/<script>/<chainId>/run-latest.json).
func AddressFromBroadcast(path string) (common.Address, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return common.Address{}, fmt.Errorf("read broadcast file: %w", err)
	}

	var bf broadcastFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return common.Address{}, fmt.Errorf("parse broadcast file %s: %w", path, err)
	}

	for _, tx := range bf.Transactions {
		if tx.TransactionType != "CREATE" {
			continue
		}
		if !common.IsHexAddress(tx.ContractAddress) {
			return common.Address{}, fmt.Errorf("broadcast file %s: invalid contract address %q", path, tx.ContractAddress)
		}
		return common.HexToAddress(tx.ContractAddress), nil
	}
	return common.Address{}, fmt.Errorf("%w: %s", ErrNoDeployment, path)
}
