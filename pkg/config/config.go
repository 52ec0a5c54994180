package config

import (
	"fmt"
	"strings"
)

type DumpFlag int

const (
	DumpYul DumpFlag = iota
	DumpEthIR
	DumpEVM
	DumpLLVM
	DumpAssembly
	DumpLLL
	DumpCount
)

type Info struct {
	Name        string
	Description string
}

var DumpFlags = map[DumpFlag]Info{
	DumpYul:      {"yul", "Dump the Yul code."},
	DumpEthIR:    {"ethir", "Dump the Ethereal IR code."},
	DumpEVM:      {"evm", "Dump the EVM code."},
	DumpLLVM:     {"llvm", "Dump the LLVM IR code."},
	DumpAssembly: {"asm", "Dump the assembly code."},
	DumpLLL:      {"lll", "Dump the Vyper LLL IR code."},
}

var DumpFlagMap = make(map[string]DumpFlag)

func init() {
	for df, info := range DumpFlags {
		DumpFlagMap[info.Name] = df
	}
}

func (df DumpFlag) String() string { return DumpFlags[df].Name }

// ParseDumpFlags resolves a list of dump stage names, as collected from
// repeated -d flags or a comma-separated list.
func ParseDumpFlags(names []string) ([]DumpFlag, error) {
	var flags []DumpFlag
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			df, ok := DumpFlagMap[part]
			if !ok {
				return nil, fmt.Errorf("unknown dump stage '%s'", part)
			}
			flags = append(flags, df)
		}
	}
	return flags, nil
}

// InitializeDumpFlags builds a flag list from one boolean per stage, in
// pipeline order.
func InitializeDumpFlags(yul, ethir, evm, llvm, assembly, lll bool) []DumpFlag {
	flags := make([]DumpFlag, 0, DumpCount)
	enabled := []bool{yul, ethir, evm, llvm, assembly, lll}
	for df := DumpFlag(0); df < DumpCount; df++ {
		if enabled[df] {
			flags = append(flags, df)
		}
	}
	return flags
}

type OptimizationLevel int

const (
	OptNone OptimizationLevel = iota
	OptLess
	OptDefault
	OptAggressive
)

func (lvl OptimizationLevel) String() string {
	switch lvl {
	case OptNone:
		return "O0"
	case OptLess:
		return "O1"
	case OptDefault:
		return "O2"
	case OptAggressive:
		return "O3"
	}
	return fmt.Sprintf("O?(%d)", int(lvl))
}

func ParseOptimizationLevel(s string) (OptimizationLevel, error) {
	switch strings.TrimPrefix(s, "O") {
	case "0":
		return OptNone, nil
	case "1":
		return OptLess, nil
	case "2":
		return OptDefault, nil
	case "3":
		return OptAggressive, nil
	}
	return OptNone, fmt.Errorf("unsupported optimization level '%s'. Supported: 0, 1, 2, 3", s)
}

type Config struct {
	ModuleName              string
	Output                  string
	DumpFlags               []DumpFlag
	OptimizationLevelMiddle OptimizationLevel
	OptimizationLevelBack   OptimizationLevel
}

func NewConfig() *Config {
	return &Config{
		ModuleName:              "main",
		OptimizationLevelMiddle: OptDefault,
		OptimizationLevelBack:   OptDefault,
	}
}

func (c *Config) HasDumpFlag(df DumpFlag) bool {
	for _, flag := range c.DumpFlags {
		if flag == df {
			return true
		}
	}
	return false
}

// ApplyDumpNames parses and installs the dump stages named on the command
// line.
func (c *Config) ApplyDumpNames(names []string) error {
	flags, err := ParseDumpFlags(names)
	if err != nil {
		return err
	}
	c.DumpFlags = flags
	return nil
}

// ApplyOptimization sets both the middle-end and back-end levels from a
// single command-line value.
func (c *Config) ApplyOptimization(s string) error {
	lvl, err := ParseOptimizationLevel(s)
	if err != nil {
		return err
	}
	c.OptimizationLevelMiddle = lvl
	c.OptimizationLevelBack = lvl
	return nil
}
