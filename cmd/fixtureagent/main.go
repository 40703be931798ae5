// Command fixtureagent is a standalone stand-in for an opaque agent CLI,
// used only by tests and the integration harness. It never speaks the
// orchestration engine's internal protocol; it just writes plain lines to
// stdout/stderr and exits, the same way a real claude/gemini/codex CLI
// would look to the Process Supervisor.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func main() {
	exitCode := flag.Int("exit-code", 0, "process exit code")
	sleep := flag.Duration("sleep", 0, "sleep before exiting (simulates long-running work)")
	stdoutLines := flag.String("stdout", "", "comma-separated lines to write to stdout")
	stderrLines := flag.String("stderr", "", "comma-separated lines to write to stderr")
	writeFile := flag.String("write-file", "", "path (relative to cwd) of a file to create before exiting")
	writeFileContent := flag.String("write-file-content", "ok\n", "content to write to -write-file")
	failFirst := flag.Int("fail-first-n", 0, "exit non-zero on the first N invocations recorded in -attempt-counter-file, then succeed")
	attemptCounterFile := flag.String("attempt-counter-file", "", "file used to persist the invocation count across -fail-first-n retries")
	lineDelay := flag.Duration("line-delay", 0, "delay between emitted stdout lines")
	flag.Parse()

	attempt := recordAttempt(*attemptCounterFile)

	for _, line := range splitNonEmpty(*stdoutLines) {
		fmt.Fprintln(os.Stdout, line)
		if *lineDelay > 0 {
			time.Sleep(*lineDelay)
		}
	}
	for _, line := range splitNonEmpty(*stderrLines) {
		fmt.Fprintln(os.Stderr, line)
	}

	if *sleep > 0 {
		time.Sleep(*sleep)
	}

	if *failFirst > 0 && attempt <= *failFirst {
		fmt.Fprintf(os.Stderr, "fixtureagent: transient failure on attempt %d/%d\n", attempt, *failFirst)
		os.Exit(1)
	}

	if *writeFile != "" {
		if err := os.WriteFile(*writeFile, []byte(*writeFileContent), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "fixtureagent: write-file failed: %v\n", err)
			os.Exit(1)
		}
	}

	os.Exit(*exitCode)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		out = append(out, part)
	}
	return out
}

// recordAttempt increments and persists an invocation counter in path,
// returning the new count. Used by -fail-first-n to simulate a launcher
// that succeeds only after a fixed number of transient failures across
// separate process invocations (the scheduler retries by re-execing).
func recordAttempt(path string) int {
	if path == "" {
		return 1
	}
	var count int
	if data, err := os.ReadFile(path); err == nil {
		fmt.Sscanf(string(data), "%d", &count)
	}
	count++
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%d", count)), 0o644)
	return count
}
