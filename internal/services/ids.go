package services

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

const txIDPrefix = "TXN"

// NewTransactionIDGenerator returns a generator of time-ordered ids that are
// unique within the process (and across processes with distinct nodes).
func NewTransactionIDGenerator(node int64) (func() string, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return func() string { return txIDPrefix + n.Generate().String() }, nil
}
