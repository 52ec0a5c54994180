package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

type ScenarioResult struct {
	Contract     string    `json:"contract"`
	Optimization string    `json:"optimization"`
	IRHash       string    `json:"ir_hash,omitempty"`
	Emit         Execution `json:"emit"`
}

type ScenarioOutcome struct {
	Scenario string          `json:"scenario"`
	Status   string          `json:"status"` // PASS, FAIL, NEW, ERROR
	Message  string          `json:"message,omitempty"`
	Diff     string          `json:"diff,omitempty"`
	Golden   *ScenarioResult `json:"golden,omitempty"`
	Current  *ScenarioResult `json:"current,omitempty"`
}

type GoldenFile map[string]*ScenarioResult

var (
	emitter        = flag.String("emitter", "./gyul", "Path to the IR emitter binary under test.")
	emitterArgs    = flag.String("emitter-args", "", "Extra arguments for the emitter (space-separated).")
	contractList   = flag.String("contracts", "counter echo owner proxy factory", "Contracts to exercise (space-separated).")
	optimizations  = flag.String("optimizations", "0 2", "Optimization levels to exercise (space-separated).")
	goldenPath     = flag.String("golden", "testdata/ir_golden.json", "Golden file holding the expected IR hashes.")
	generateGolden = flag.Bool("generate-golden", false, "Rewrite the golden file from the current emitter output.")
	outputJSON     = flag.String("output", ".irtest_results.json", "Output file for the JSON test report.")
	timeout        = flag.Duration("timeout", 10*time.Second, "Timeout for each emitter invocation.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

type scenario struct {
	contract string
	level    string
}

func (sc scenario) name() string {
	return fmt.Sprintf("%s@O%s", sc.contract, sc.level)
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	tempDir, err := os.MkdirTemp("", "gyul-irtest-*")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create temp directory: %v\n", cRed, cNone, err)
	}
	defer os.RemoveAll(tempDir)
	setupInterruptHandler(tempDir)

	scenarios := buildScenarios()
	if len(scenarios) == 0 {
		log.Println("No scenarios to run.")
		return
	}

	results := runScenarios(scenarios, tempDir)

	if *generateGolden {
		handleGenerateGolden(results)
		return
	}

	golden := loadGoldenFile()
	outcomes := make([]*ScenarioOutcome, 0, len(results))
	for _, sc := range scenarios {
		outcomes = append(outcomes, compareScenario(sc.name(), golden[sc.name()], results[sc.name()]))
	}

	printSummary(outcomes)
	outcomeMap := writeJSONReport(outcomes)

	if hasFailures(outcomeMap) {
		os.Exit(1)
	}
}

// setupInterruptHandler is used to clean up on CTRL+C
func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func buildScenarios() []scenario {
	var scenarios []scenario
	for _, contract := range strings.Fields(*contractList) {
		for _, level := range strings.Fields(*optimizations) {
			scenarios = append(scenarios, scenario{contract: contract, level: strings.TrimPrefix(level, "O")})
		}
	}
	return scenarios
}

func runScenarios(scenarios []scenario, tempDir string) map[string]*ScenarioResult {
	tasks := make(chan scenario, len(scenarios))
	type namedResult struct {
		name   string
		result *ScenarioResult
	}
	resultsChan := make(chan namedResult, len(scenarios))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sc := range tasks {
				if *verbose {
					log.Printf("[%s] Emitting...", sc.name())
				}
				resultsChan <- namedResult{name: sc.name(), result: runScenario(sc, tempDir)}
			}
		}()
	}

	for _, sc := range scenarios {
		tasks <- sc
	}
	close(tasks)
	wg.Wait()
	close(resultsChan)

	results := make(map[string]*ScenarioResult, len(scenarios))
	for nr := range resultsChan {
		results[nr.name] = nr.result
	}
	return results
}

func runScenario(sc scenario, tempDir string) *ScenarioResult {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	outPath := filepath.Join(tempDir, sc.name()+".ll")
	args := []string{"-O", sc.level, "-o", outPath}
	args = append(args, strings.Fields(*emitterArgs)...)
	args = append(args, sc.contract)

	result := &ScenarioResult{
		Contract:     sc.contract,
		Optimization: "O" + sc.level,
		Emit:         executeCommand(ctx, *emitter, args...),
	}

	// The emitter prints the output path it was handed; replace it with a
	// placeholder so golden comparisons survive the per-run temp directory.
	result.Emit.Stdout = strings.ReplaceAll(result.Emit.Stdout, outPath, "__OUTPUT__")
	result.Emit.Stderr = strings.ReplaceAll(result.Emit.Stderr, outPath, "__OUTPUT__")

	if result.Emit.ExitCode != 0 || result.Emit.TimedOut {
		return result
	}

	hash, err := hashFile(outPath)
	if err != nil {
		result.Emit.ExitCode = -3
		result.Emit.Stderr += "\nFailed to hash emitted IR: " + err.Error()
		return result
	}
	result.IRHash = hash
	return result
}

// executeCommand runs a command with a timeout and captures its output
func executeCommand(ctx context.Context, command string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(startTime)

	execResult := Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if ctx.Err() == context.DeadlineExceeded {
		execResult.TimedOut = true
		execResult.ExitCode = -1
	} else if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			execResult.ExitCode = exitErr.ExitCode()
		} else {
			execResult.ExitCode = -2 // Should not happen often
			execResult.Stderr += "\nExecution error: " + err.Error()
		}
	} else {
		execResult.ExitCode = 0
	}

	return execResult
}

// hashFile computes the xxhash of a file's content
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func loadGoldenFile() GoldenFile {
	golden := make(GoldenFile)
	data, err := os.ReadFile(*goldenPath)
	if err != nil {
		log.Printf("%s[WARN]%s Could not read golden file %s. Run with --generate-golden to create it.\n", cYellow, cNone, *goldenPath)
		return golden
	}
	if err := json.Unmarshal(data, &golden); err != nil {
		log.Printf("%s[WARN]%s Could not parse golden file %s: %v\n", cYellow, cNone, *goldenPath, err)
		return make(GoldenFile)
	}
	return golden
}

func handleGenerateGolden(results map[string]*ScenarioResult) {
	for name, result := range results {
		if result.Emit.ExitCode != 0 || result.Emit.TimedOut {
			log.Fatalf("%s[ERROR]%s Cannot generate golden data: scenario %s failed with exit code %d:\n%s\n",
				cRed, cNone, name, result.Emit.ExitCode, result.Emit.Stderr)
		}
	}

	jsonData, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to marshal golden data to JSON: %v\n", cRed, cNone, err)
	}

	if dir := filepath.Dir(*goldenPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, dir, err)
		}
	}
	if err := os.WriteFile(*goldenPath, jsonData, 0644); err != nil {
		log.Fatalf("%s[ERROR]%s Failed to write golden file %s: %v\n", cRed, cNone, *goldenPath, err)
	}

	log.Printf("%s[SUCCESS]%s Golden file created at %s with %d scenarios\n", cGreen, cNone, *goldenPath, len(results))
}

func compareScenario(name string, golden, current *ScenarioResult) *ScenarioOutcome {
	if current == nil {
		return &ScenarioOutcome{Scenario: name, Status: "ERROR", Message: "Scenario produced no result"}
	}
	if golden == nil {
		return &ScenarioOutcome{
			Scenario: name,
			Status:   "NEW",
			Message:  "Not present in the golden file; regenerate with --generate-golden",
			Current:  current,
		}
	}

	var diffs strings.Builder
	var failed bool

	if golden.Emit.ExitCode != current.Emit.ExitCode {
		failed = true
		diffs.WriteString(fmt.Sprintf("Exit code mismatch:\n  - Golden:  %d\n  - Current: %d\n", golden.Emit.ExitCode, current.Emit.ExitCode))
	}
	if golden.IRHash != current.IRHash {
		failed = true
		diffs.WriteString(fmt.Sprintf("IR hash mismatch:\n  - Golden:  %s\n  - Current: %s\n", golden.IRHash, current.IRHash))
	}
	if golden.Emit.Stdout != current.Emit.Stdout {
		failed = true
		diffs.WriteString(fmt.Sprintf("STDOUT mismatch:\n%s", cmp.Diff(golden.Emit.Stdout, current.Emit.Stdout)))
	}
	if golden.Emit.Stderr != current.Emit.Stderr {
		failed = true
		diffs.WriteString(fmt.Sprintf("STDERR mismatch:\n%s", cmp.Diff(golden.Emit.Stderr, current.Emit.Stderr)))
	}

	if failed {
		return &ScenarioOutcome{
			Scenario: name,
			Status:   "FAIL",
			Message:  "Emitted IR or emitter output diverged from the golden data",
			Diff:     diffs.String(),
			Golden:   golden,
			Current:  current,
		}
	}

	return &ScenarioOutcome{
		Scenario: name,
		Status:   "PASS",
		Message:  "Emitted IR matches the golden data",
		Golden:   golden,
		Current:  current,
	}
}

func printSummary(outcomes []*ScenarioOutcome) {
	var passed, failed, fresh, errored int

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Scenario < outcomes[j].Scenario
	})

	for _, outcome := range outcomes {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Scenario %s%s%s...\n", cCyan, outcome.Scenario, cNone)

		switch outcome.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, outcome.Message)
			if *verbose && outcome.Current != nil {
				fmt.Printf("         IR hash %s, emitted in %s\n", outcome.Current.IRHash, outcome.Current.Emit.Duration)
			}
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, outcome.Message)
			fmt.Println(formatDiff(outcome.Diff))
		case "NEW":
			fresh++
			fmt.Printf("  [%sNEW%s]  %s\n", cYellow, cNone, outcome.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, outcome.Message)
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d New%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, fresh, cNone, cRed, errored, cNone, len(outcomes))
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		lineWithIndent := "    " + line
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmedLine, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString(lineWithIndent)
		builder.WriteString(cNone)
		builder.WriteString("\n")
	}
	return builder.String()
}

func writeJSONReport(outcomes []*ScenarioOutcome) map[string]*ScenarioOutcome {
	outcomeMap := make(map[string]*ScenarioOutcome, len(outcomes))
	for _, outcome := range outcomes {
		outcomeMap[outcome.Scenario] = outcome
	}

	jsonData, err := json.MarshalIndent(outcomeMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return outcomeMap
	}

	if err := os.WriteFile(*outputJSON, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, *outputJSON, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", *outputJSON)
	}
	return outcomeMap
}

func hasFailures(outcomes map[string]*ScenarioOutcome) bool {
	for _, outcome := range outcomes {
		if outcome.Status == "FAIL" || outcome.Status == "ERROR" {
			return true
		}
	}
	return false
}
