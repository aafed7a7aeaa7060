// Fuzz testing report tool for diskmon.
//
// Runs the fuzz targets guarding every decoder that sees untrusted input
// (report files, the persisted state document, SMART payloads and config),
// then writes target/reports/fuzz.txt. Exits non-zero if any target finds a
// failing input.
//
// Usage:
//
//	go run ./scripts/fuzz
//	FUZZ_TIME=60s go run ./scripts/fuzz
//	FUZZ_TARGETS=FuzzParse,FuzzEvaluate go run ./scripts/fuzz
package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type fuzzTarget struct {
	Function string
	Package  string
	Input    string // what the target decodes, for the report
}

var fuzzTargets = []fuzzTarget{
	{Function: "FuzzParse", Package: "./internal/report/", Input: "report files from the inbox"},
	{Function: "FuzzDecodeDocument", Package: "./internal/persist/", Input: "state file in any known layout"},
	{Function: "FuzzEvaluate", Package: "./internal/smart/", Input: "stored disk payloads"},
	{Function: "FuzzExpandEnvVars", Package: "./internal/config/", Input: "config file text"},
}

type fuzzResult struct {
	Target         fuzzTarget
	Duration       time.Duration
	Execs          int64
	ExecsPerSec    int64
	NewInteresting int
	Passed         bool
	Output         string
}

var (
	reExecs          = regexp.MustCompile(`execs:\s+(\d+)\s+\((\d+)/sec\)`)
	reNewInteresting = regexp.MustCompile(`new interesting:\s+(\d+)`)
)

func main() {
	projectRoot := findProjectRoot()
	reportDir := filepath.Join(projectRoot, "target", "reports")

	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		log.Fatalf("creating report directory: %v", err)
	}

	fuzzTime := os.Getenv("FUZZ_TIME")
	if fuzzTime == "" {
		fuzzTime = "30s"
	}
	targets, err := selectTargets(os.Getenv("FUZZ_TARGETS"))
	if err != nil {
		log.Fatal(err)
	}

	started := time.Now()
	fmt.Printf("Running %d fuzz targets (fuzztime=%s each)...\n\n", len(targets), fuzzTime)

	results := make([]fuzzResult, 0, len(targets))
	for _, target := range targets {
		fmt.Printf("--- %s (%s) ---\n", target.Function, target.Package)
		r := runFuzz(projectRoot, target, fuzzTime)
		results = append(results, r)
		if r.Passed {
			fmt.Printf("PASS: %s  execs: %d (%d/sec)  new interesting: %d\n\n",
				target.Function, r.Execs, r.ExecsPerSec, r.NewInteresting)
		} else {
			fmt.Printf("FAIL: %s\n\n", target.Function)
		}
	}

	reportPath := filepath.Join(reportDir, "fuzz.txt")
	if err := os.WriteFile(reportPath, []byte(buildReport(started, fuzzTime, results)), 0o644); err != nil {
		log.Fatalf("writing fuzz report: %v", err)
	}
	fmt.Printf("Fuzz report: %s\n", reportPath)

	if n := countFailed(results); n > 0 {
		fmt.Printf("\n%d fuzz target(s) failed.\n", n)
		os.Exit(1)
	}
	fmt.Println("\nAll fuzz targets passed.")
}

// selectTargets filters fuzzTargets by a comma-separated list of function
// names. An empty list selects everything.
func selectTargets(list string) ([]fuzzTarget, error) {
	if strings.TrimSpace(list) == "" {
		return fuzzTargets, nil
	}
	var out []fuzzTarget
	for name := range strings.SplitSeq(list, ",") {
		name = strings.TrimSpace(name)
		found := false
		for _, t := range fuzzTargets {
			if t.Function == name {
				out = append(out, t)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown fuzz target %q", name)
		}
	}
	return out, nil
}

func runFuzz(projectRoot string, target fuzzTarget, fuzzTime string) fuzzResult {
	start := time.Now()

	// -run=^$ skips the package's unit tests; only the seed corpus and the
	// fuzzer run.
	cmd := exec.Command("go", "test",
		"-run=^$",
		"-fuzz=^"+target.Function+"$",
		"-fuzztime="+fuzzTime,
		target.Package,
	)
	cmd.Dir = projectRoot

	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &buf)

	err := cmd.Run()
	output := buf.String()

	r := fuzzResult{Target: target, Duration: time.Since(start), Output: output}
	r.Execs, r.ExecsPerSec, r.NewInteresting = lastProgress(output)

	// The fuzz timer can race with test finalization and report "context
	// deadline exceeded" without a failing input; only a written corpus
	// entry is a real failure.
	r.Passed = err == nil ||
		(strings.Contains(output, "context deadline exceeded") &&
			!strings.Contains(output, "Failing input written to"))
	return r
}

// lastProgress reads the final "fuzz: elapsed:" line of a run.
func lastProgress(output string) (execs, perSec int64, interesting int) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.HasPrefix(lines[i], "fuzz: elapsed:") {
			continue
		}
		if m := reExecs.FindStringSubmatch(lines[i]); m != nil {
			execs, _ = strconv.ParseInt(m[1], 10, 64)
			perSec, _ = strconv.ParseInt(m[2], 10, 64)
		}
		if m := reNewInteresting.FindStringSubmatch(lines[i]); m != nil {
			interesting, _ = strconv.Atoi(m[1])
		}
		return
	}
	return
}

func countFailed(results []fuzzResult) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}

func status(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

func buildReport(started time.Time, fuzzTime string, results []fuzzResult) string {
	var sb strings.Builder
	sep := strings.Repeat("=", 72)
	thin := strings.Repeat("-", 72)

	sb.WriteString("diskmon Fuzz Testing Report\n")
	sb.WriteString(sep + "\n")
	fmt.Fprintf(&sb, "Generated:   %s\n", started.Format(time.RFC1123))
	fmt.Fprintf(&sb, "Go Version:  %s\n", captureGoVersion())
	fmt.Fprintf(&sb, "OS/Arch:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Fuzz Time:   %s per target\n", fuzzTime)
	sb.WriteString(sep + "\n\n")

	sb.WriteString("Summary\n")
	sb.WriteString(thin + "\n")
	fmt.Fprintf(&sb, "  %-24s  %-4s  %12s  %-10s  %s\n", "Target", "", "Execs", "New Corpus", "Input")
	sb.WriteString(thin + "\n")

	var totalExecs int64
	for _, r := range results {
		totalExecs += r.Execs
		fmt.Fprintf(&sb, "  %-24s  %-4s  %12d  %-10d  %s\n",
			r.Target.Function, status(r.Passed), r.Execs, r.NewInteresting, r.Target.Input)
	}
	sb.WriteString(thin + "\n")
	fmt.Fprintf(&sb, "  Total executions: %d\n", totalExecs)
	if n := countFailed(results); n > 0 {
		fmt.Fprintf(&sb, "  FAILED targets:   %d\n", n)
	} else {
		sb.WriteString("  All targets passed.\n")
	}
	sb.WriteString("\n")

	// Full output is only kept for failures; passing runs are summarized.
	sb.WriteString("Details\n")
	sb.WriteString(sep + "\n\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "[%s] %s (%s, %s)\n", status(r.Passed), r.Target.Function,
			r.Target.Package, r.Duration.Round(time.Millisecond))
		if r.Passed {
			fmt.Fprintf(&sb, "  %d execs at %d/sec\n\n", r.Execs, r.ExecsPerSec)
			continue
		}
		for line := range strings.SplitSeq(strings.TrimRight(r.Output, "\n"), "\n") {
			fmt.Fprintf(&sb, "    %s\n", line)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func captureGoVersion() string {
	out, err := exec.Command("go", "version").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func findProjectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		log.Fatal("could not determine script directory")
	}
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			log.Fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}
