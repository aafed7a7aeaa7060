// Benchmark report tool for diskmon.
//
// Runs the benchmarks of the ingestion path (report parsing, inventory merges,
// state encoding, SMART evaluation), tabulates ns/op and allocations per
// benchmark, and writes target/reports/bench.txt. Exits non-zero if any
// benchmark fails.
//
// Usage:
//
//	go run ./scripts/bench
//	BENCH_TIME=10s go run ./scripts/bench
//	BENCH_PKGS=./internal/smart/ go run ./scripts/bench
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// benchLine matches "BenchmarkX-8  1000  1234 ns/op  56 B/op  2 allocs/op".
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+(\d+)\s+([\d.]+) ns/op(?:\s+(\d+) B/op)?(?:\s+(\d+) allocs/op)?`)

type benchResult struct {
	Package  string
	Name     string
	NsPerOp  string
	BytesOp  string
	AllocsOp string
}

func main() {
	projectRoot := findProjectRoot()
	reportDir := filepath.Join(projectRoot, "target", "reports")

	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		log.Fatalf("creating report directory: %v", err)
	}

	benchTime := os.Getenv("BENCH_TIME")
	if benchTime == "" {
		benchTime = "3s"
	}
	pkgs := strings.Fields(os.Getenv("BENCH_PKGS"))
	if len(pkgs) == 0 {
		pkgs = []string{"./internal/...", "./templates/..."}
	}

	started := time.Now()
	fmt.Printf("Running benchmarks in %s (benchtime=%s)...\n\n", strings.Join(pkgs, " "), benchTime)

	args := append([]string{"test", "-bench=.", "-benchmem", "-benchtime=" + benchTime, "-run=^$"}, pkgs...)
	cmd := exec.Command("go", args...)
	cmd.Dir = projectRoot

	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &buf)
	runErr := cmd.Run()

	results := parseResults(buf.String())

	var report strings.Builder
	sep := strings.Repeat("=", 72)
	thin := strings.Repeat("-", 72)
	report.WriteString("diskmon Benchmark Report\n")
	report.WriteString(sep + "\n")
	fmt.Fprintf(&report, "Generated:      %s\n", started.Format(time.RFC1123))
	fmt.Fprintf(&report, "Go Version:     %s\n", captureGoVersion())
	fmt.Fprintf(&report, "OS/Arch:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&report, "Benchmark Time: %s per benchmark\n", benchTime)
	report.WriteString(sep + "\n\n")

	fmt.Fprintf(&report, "  %-44s  %14s  %10s  %10s\n", "Benchmark", "ns/op", "B/op", "allocs/op")
	report.WriteString(thin + "\n")
	lastPkg := ""
	for _, r := range results {
		if r.Package != lastPkg {
			fmt.Fprintf(&report, "%s\n", r.Package)
			lastPkg = r.Package
		}
		fmt.Fprintf(&report, "  %-44s  %14s  %10s  %10s\n", r.Name, r.NsPerOp, r.BytesOp, r.AllocsOp)
	}
	report.WriteString(thin + "\n")
	fmt.Fprintf(&report, "  %d benchmarks\n", len(results))

	if runErr != nil {
		fmt.Fprintf(&report, "\n[ERROR] %v\n\nRaw output:\n%s", runErr, buf.String())
	}

	reportPath := filepath.Join(reportDir, "bench.txt")
	if err := os.WriteFile(reportPath, []byte(report.String()), 0o644); err != nil {
		log.Fatalf("writing bench report: %v", err)
	}
	fmt.Printf("\nBenchmark report: %s\n", reportPath)

	if runErr != nil {
		os.Exit(1)
	}
	fmt.Println("Benchmark run complete.")
}

// parseResults extracts benchmark lines, attributing each to the package
// named by the "pkg:" header that precedes it.
func parseResults(output string) []benchResult {
	var results []benchResult
	pkg := ""
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		if p, ok := strings.CutPrefix(line, "pkg: "); ok {
			pkg = strings.TrimSpace(p)
			continue
		}
		m := benchLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		results = append(results, benchResult{
			Package:  pkg,
			Name:     m[1],
			NsPerOp:  m[3],
			BytesOp:  orDash(m[4]),
			AllocsOp: orDash(m[5]),
		})
	}
	return results
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
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
