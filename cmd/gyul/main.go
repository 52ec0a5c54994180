package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/cli"
	"github.com/xplshn/gyul/pkg/codegen"
	"github.com/xplshn/gyul/pkg/config"
	"github.com/xplshn/gyul/pkg/evm"
)

func main() {
	app := cli.NewApp("gyul")
	app.Synopsis = "[options] <contract>"
	app.Description = "An LLVM IR emitter for the 256-bit contract VM. Pick a built-in contract, get textual IR back; no LLVM installation harmed in the process."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/gyul>"

	var (
		outFile       string
		moduleName    string
		optimization  string
		dumpStages    []string
		listContracts bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "a.ll", "Place the emitted IR into <file>.", "file")
	fs.String(&moduleName, "module-name", "m", "", "Set the LLVM module name (defaults to the contract name).", "name")
	fs.String(&optimization, "optimization", "O", "2", "Set the middle-end and back-end optimization level.", "level")
	fs.List(&dumpStages, "dump", "d", []string{}, "Dump an intermediate stage to stdout (this tool produces 'llvm').", "stage")
	fs.Bool(&listContracts, "list", "l", false, "List the built-in contracts and exit.")

	app.Action = func(args []string) error {
		if listContracts {
			printContracts()
			return nil
		}

		cfg := config.NewConfig()
		cfg.Output = outFile
		if err := cfg.ApplyDumpNames(dumpStages); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		if err := cfg.ApplyOptimization(optimization); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}

		if len(args) != 1 {
			err := fmt.Errorf("expected exactly one contract name, got %d. Known contracts: %s", len(args), contractNameList())
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		contract, ok := contracts[args[0]]
		if !ok {
			err := fmt.Errorf("unknown contract '%s'. Known contracts: %s", args[0], contractNameList())
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		cfg.ModuleName = moduleName
		if cfg.ModuleName == "" {
			cfg.ModuleName = contract.name
		}

		fmt.Println("----------------------")
		fmt.Printf("Lowering contract '%s' (middle end %s, back end %s)...\n",
			contract.name, cfg.OptimizationLevelMiddle, cfg.OptimizationLevelBack)
		module, err := lowerContract(contract, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}

		fmt.Printf("Writing IR to '%s'...\n", cfg.Output)
		if err := os.WriteFile(cfg.Output, []byte(module.String()), 0644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}

		fmt.Println("----------------------")
		fmt.Println("Done!")
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// lowerContract runs the full lowering pipeline for one contract and
// returns the verified module. It is shared by the command line path and
// by dependency compilation, which passes no dump flags.
func lowerContract(contract *demoContract, cfg *config.Config) (*ir.Module, error) {
	optimizer := codegen.NewOptimizer(cfg.OptimizationLevelMiddle, cfg.OptimizationLevelBack)
	ctx := codegen.NewContext(cfg.ModuleName, optimizer, contractManager{}, cfg.DumpFlags)

	entry := codegen.NewEntry(lowerFunc(contract.deploy), lowerFunc(contract.runtime))
	if err := entry.Prepare(ctx); err != nil {
		return nil, err
	}
	if err := entry.Declare(ctx); err != nil {
		return nil, err
	}
	if err := entry.IntoLLVM(ctx); err != nil {
		return nil, err
	}

	ctx.Optimize()
	if err := ctx.Verify(); err != nil {
		return nil, err
	}
	if err := ctx.DumpModule(os.Stdout); err != nil {
		return nil, err
	}
	return ctx.Module(), nil
}

// contractManager resolves create dependencies against the built-in
// contract table. The dependency hash is the keccak of the child's IR,
// standing in for the bytecode hash a real build system would produce.
type contractManager struct{}

func (contractManager) Compile(name, parent string, levelMiddle, levelBack config.OptimizationLevel, dumpFlags []config.DumpFlag) (string, error) {
	contract, ok := contracts[name]
	if !ok {
		return "", fmt.Errorf("contract '%s' depends on unknown contract '%s'", parent, name)
	}
	cfg := config.NewConfig()
	cfg.ModuleName = name
	cfg.OptimizationLevelMiddle = levelMiddle
	cfg.OptimizationLevelBack = levelBack
	module, err := lowerContract(contract, cfg)
	if err != nil {
		return "", fmt.Errorf("lowering dependency '%s' of '%s': %w", name, parent, err)
	}
	return abi.Keccak256Hex([]byte(module.String())), nil
}

func (contractManager) ResolveLibrary(path string) (string, error) {
	return "", fmt.Errorf("library '%s' is not linked into the built-in contracts", path)
}

// lowerFunc adapts a plain body generator to the three-phase lowering
// protocol; the built-in contracts have nothing to prepare or declare.
type lowerFunc func(ctx *codegen.Context) error

func (lowerFunc) Prepare(ctx *codegen.Context) error { return nil }
func (lowerFunc) Declare(ctx *codegen.Context) error { return nil }

func (f lowerFunc) IntoLLVM(ctx *codegen.Context) error { return f(ctx) }

type demoContract struct {
	name        string
	description string
	deploy      func(ctx *codegen.Context) error
	runtime     func(ctx *codegen.Context) error
}

var contracts = map[string]*demoContract{
	"counter": {
		name:        "counter",
		description: "Bumps a storage slot on every call and returns the new count.",
		deploy:      counterDeploy,
		runtime:     counterRuntime,
	},
	"echo": {
		name:        "echo",
		description: "Returns its calldata unchanged.",
		deploy:      stopDeploy,
		runtime:     echoRuntime,
	},
	"owner": {
		name:        "owner",
		description: "Records the deployer at construction and serves it back.",
		deploy:      ownerDeploy,
		runtime:     ownerRuntime,
	},
	"proxy": {
		name:        "proxy",
		description: "Forwards calldata through the identity precompile.",
		deploy:      stopDeploy,
		runtime:     proxyRuntime,
	},
	"factory": {
		name:        "factory",
		description: "Deploys a counter with the salt taken from calldata.",
		deploy:      stopDeploy,
		runtime:     factoryRuntime,
	},
}

func contractNames() []string {
	names := make([]string, 0, len(contracts))
	for name := range contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contractNameList() string {
	list := ""
	for i, name := range contractNames() {
		if i > 0 {
			list += ", "
		}
		list += name
	}
	return list
}

func printContracts() {
	fmt.Println("Built-in contracts:")
	for _, name := range contractNames() {
		fmt.Printf("  %-10s %s\n", name, contracts[name].description)
	}
}

func stopDeploy(ctx *codegen.Context) error {
	evm.Stop(ctx)
	return nil
}

func counterDeploy(ctx *codegen.Context) error {
	slot := codegen.NewArgument(ctx.FieldConst(0))
	evm.StorageStore(ctx, slot, codegen.NewArgument(ctx.FieldConst(0)))
	return nil
}

// heapBase is the first heap byte offset the demo bodies stage data at,
// past the header and long-return words.
func heapBase(ctx *codegen.Context) codegen.Argument {
	return codegen.NewArgument(ctx.FieldConst(abi.DataOffset * abi.SizeField))
}

func counterRuntime(ctx *codegen.Context) error {
	slot := codegen.NewArgument(ctx.FieldConst(0))
	count := evm.StorageLoad(ctx, slot)
	next := ctx.BasicBlock().NewAdd(count, ctx.FieldConst(1))
	evm.StorageStore(ctx, slot, codegen.NewArgument(next))

	base := heapBase(ctx)
	ctx.BuildStore(ctx.AccessMemory(base.Value, codegen.SpaceHeap), next)
	evm.Return(ctx, base, codegen.NewArgument(ctx.FieldConst(abi.SizeField)))
	return nil
}

func echoRuntime(ctx *codegen.Context) error {
	zero := codegen.NewArgument(ctx.FieldConst(0))
	base := heapBase(ctx)
	size := codegen.NewArgument(evm.CalldataSize(ctx))
	evm.CalldataCopy(ctx, base, zero, size)
	evm.Return(ctx, base, size)
	return nil
}

func ownerDeploy(ctx *codegen.Context) error {
	evm.ImmutableStore(ctx, "owner", evm.Caller(ctx))
	return nil
}

func ownerRuntime(ctx *codegen.Context) error {
	owner := evm.ImmutableLoad(ctx, "owner")
	base := heapBase(ctx)
	ctx.BuildStore(ctx.AccessMemory(base.Value, codegen.SpaceHeap), owner)
	evm.Return(ctx, base, codegen.NewArgument(ctx.FieldConst(abi.SizeField)))
	return nil
}

func proxyRuntime(ctx *codegen.Context) error {
	zero := codegen.NewArgument(ctx.FieldConst(0))
	base := heapBase(ctx)
	size := codegen.NewArgument(evm.CalldataSize(ctx))
	evm.CalldataCopy(ctx, base, zero, size)

	outputOffset := codegen.NewArgument(ctx.BasicBlock().NewAdd(base.Value, size.Value))
	success := evm.Call(ctx,
		codegen.NewArgument(ctx.FieldConstStr(abi.AddressIdentity)),
		zero, base, size, outputOffset, size)

	failureBlock := ctx.AppendBasicBlock("forward_failure_block")
	successBlock := ctx.AppendBasicBlock("forward_success_block")
	failed := ctx.BasicBlock().NewICmp(enum.IPredEQ, success, ctx.FieldConst(0))
	ctx.BuildConditionalBranch(failed, failureBlock, successBlock)

	ctx.SetBasicBlock(failureBlock)
	evm.Revert(ctx, zero, zero)

	ctx.SetBasicBlock(successBlock)
	evm.Return(ctx, outputOffset, size)
	return nil
}

func factoryRuntime(ctx *codegen.Context) error {
	zero := codegen.NewArgument(ctx.FieldConst(0))
	salt := codegen.NewArgument(evm.CalldataLoad(ctx, zero))

	// No constructor arguments; the creation scratch area starts right at
	// the staging base.
	base := heapBase(ctx)
	address, err := evm.Create2(ctx, "counter", zero, base, zero, salt)
	if err != nil {
		return err
	}

	ctx.BuildStore(ctx.AccessMemory(base.Value, codegen.SpaceHeap), address)
	evm.Return(ctx, base, codegen.NewArgument(ctx.FieldConst(abi.SizeField)))
	return nil
}
