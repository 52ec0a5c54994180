package codegen

import (
	"github.com/llir/llvm/ir"
)

// Loop records the blocks a loop body needs to resolve continue and
// break statements.
type Loop struct {
	BodyBlock     *ir.Block
	ContinueBlock *ir.Block
	JoinBlock     *ir.Block
}

// NewLoop creates a loop record from the three blocks of a lowered loop.
func NewLoop(bodyBlock, continueBlock, joinBlock *ir.Block) Loop {
	return Loop{
		BodyBlock:     bodyBlock,
		ContinueBlock: continueBlock,
		JoinBlock:     joinBlock,
	}
}
