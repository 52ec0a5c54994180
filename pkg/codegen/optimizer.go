package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"

	"github.com/xplshn/gyul/pkg/config"
)

// Optimizer runs the middle-end passes over emitted functions. The
// middle level gates the passes here; the back level is carried along
// for dependency compilation.
type Optimizer struct {
	levelMiddle config.OptimizationLevel
	levelBack   config.OptimizationLevel
}

// NewOptimizer creates an optimizer with the two pipeline levels.
func NewOptimizer(levelMiddle, levelBack config.OptimizationLevel) *Optimizer {
	return &Optimizer{levelMiddle: levelMiddle, levelBack: levelBack}
}

// LevelMiddle returns the middle-end level.
func (optimizer *Optimizer) LevelMiddle() config.OptimizationLevel {
	return optimizer.levelMiddle
}

// LevelBack returns the back-end level.
func (optimizer *Optimizer) LevelBack() config.OptimizationLevel {
	return optimizer.levelBack
}

// RunOnFunction applies the function passes: branch threading from
// level 1, unreachable block removal from level 2. It reports whether
// the function changed.
func (optimizer *Optimizer) RunOnFunction(function *Function) bool {
	if optimizer.levelMiddle == config.OptNone {
		return false
	}
	changed := false
	for threadBranches(function.Value) {
		changed = true
	}
	if optimizer.levelMiddle >= config.OptDefault {
		for removeUnreachableBlocks(function) {
			changed = true
		}
	}
	return changed
}

// RunOnModule applies the module passes: from level 2, private
// functions nothing calls are removed. It reports whether the module
// changed.
func (optimizer *Optimizer) RunOnModule(module *ir.Module) bool {
	if optimizer.levelMiddle < config.OptDefault {
		return false
	}
	called := make(map[*ir.Func]bool)
	for _, function := range module.Funcs {
		if personality, ok := function.Personality.(*ir.Func); ok {
			called[personality] = true
		}
		for _, block := range function.Blocks {
			for _, inst := range block.Insts {
				if call, ok := inst.(*ir.InstCall); ok {
					if callee, ok := call.Callee.(*ir.Func); ok {
						called[callee] = true
					}
				}
			}
			if invoke, ok := block.Term.(*ir.TermInvoke); ok {
				if callee, ok := invoke.Invokee.(*ir.Func); ok {
					called[callee] = true
				}
			}
		}
	}

	kept := module.Funcs[:0]
	changed := false
	for _, function := range module.Funcs {
		if function.Linkage == enum.LinkagePrivate && len(function.Blocks) > 0 && !called[function] {
			changed = true
			continue
		}
		kept = append(kept, function)
	}
	module.Funcs = kept
	return changed
}

// threadBranches retargets branches that lead to empty forwarding
// blocks. One call performs a single sweep; callers iterate to a fixed
// point.
func threadBranches(function *ir.Func) bool {
	changed := false
	for _, block := range function.Blocks {
		switch term := block.Term.(type) {
		case *ir.TermBr:
			target := term.Succs()[0]
			if forwarded := forwardTarget(target); forwarded != nil {
				block.Term = ir.NewBr(forwarded)
				changed = true
			}
		case *ir.TermCondBr:
			successors := term.Succs()
			targetTrue, targetFalse := successors[0], successors[1]
			forwardedTrue := forwardTarget(targetTrue)
			forwardedFalse := forwardTarget(targetFalse)
			if forwardedTrue == nil && forwardedFalse == nil {
				continue
			}
			if forwardedTrue == nil {
				forwardedTrue = targetTrue
			}
			if forwardedFalse == nil {
				forwardedFalse = targetFalse
			}
			block.Term = ir.NewCondBr(term.Cond, forwardedTrue, forwardedFalse)
			changed = true
		}
	}
	return changed
}

// forwardTarget follows a chain of empty blocks ending in unconditional
// branches and returns the final destination, or nil when block is not
// a forwarder.
func forwardTarget(block *ir.Block) *ir.Block {
	target := block
	for hops := 0; hops < 8; hops++ {
		if len(target.Insts) != 0 {
			break
		}
		br, ok := target.Term.(*ir.TermBr)
		if !ok {
			break
		}
		next := br.Succs()[0]
		if next == target {
			break
		}
		target = next
	}
	if target == block {
		return nil
	}
	return target
}

// removeUnreachableBlocks drops blocks nothing branches to. The four
// control blocks every function is created with are never removed. One
// call performs a single sweep; callers iterate to a fixed point.
func removeUnreachableBlocks(function *Function) bool {
	referenced := map[*ir.Block]bool{
		function.EntryBlock:  true,
		function.ThrowBlock:  true,
		function.CatchBlock:  true,
		function.ReturnBlock: true,
	}
	blocks := function.Value.Blocks
	if len(blocks) > 0 {
		referenced[blocks[0]] = true
	}
	for _, block := range blocks {
		if block.Term == nil {
			continue
		}
		for _, successor := range block.Term.Succs() {
			referenced[successor] = true
		}
	}

	kept := blocks[:0]
	changed := false
	for _, block := range blocks {
		if !referenced[block] {
			changed = true
			continue
		}
		kept = append(kept, block)
	}
	function.Value.Blocks = kept
	return changed
}
