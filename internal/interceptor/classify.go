package interceptor

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/blackwell-systems/dupwrap/internal/notify"
)

var (
	warnToken  = regexp.MustCompile(`\bWARN\b`)
	errorToken = regexp.MustCompile(`\b(ERROR|FATAL|ASSERT)\b`)

	// duplicacy -log lines start with "YYYY-MM-DD hh:mm:ss.mmm".
	logTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}\.\d{3}\b`)

	storageSet    = regexp.MustCompile(`\bSTORAGE_SET\s+.*set to\s+(.*)$`)
	repositorySet = regexp.MustCompile(`\bREPOSITORY_SET\s+.*set to\s+(.*)$`)
	chunkDelete   = regexp.MustCompile(`\bINFO\s+CHUNK_DELETE\b`)
	snapshotGone  = regexp.MustCompile(`\bINFO\s+SNAPSHOT_DELETE\b.*\bremoved\b`)
	keywordLine   = regexp.MustCompile(`\bINFO\s+(\w+)\s+(\w.+\w)$`)
	checkAllGood  = regexp.MustCompile(`All chunks referenced by snapshot`)
	copyProgress  = regexp.MustCompile(`Chunks to copy:|Copied \d+ new chunks`)
)

// Message IDs whose text is appended to the summary as statistics.
var statKeywords = map[string]bool{
	"BACKUP_END":     true,
	"BACKUP_STATS":   true,
	"SNAPSHOT_COPY":  true,
	"SNAPSHOT_NONE":  true,
	"SNAPSHOT_CHECK": true,
	"RESTORE_END":    true,
	"RESTORE_STATS":  true,
}

// Counts tallies the severity tokens seen in a run's output.
type Counts struct {
	Warnings int
	Errors   int
	// Tokens counts each of WARN, ERROR, FATAL and ASSERT separately.
	Tokens map[string]int
}

// Classifier scans output lines and accumulates what the summary needs.
// It is safe for concurrent use by the stdout and stderr readers.
type Classifier struct {
	mu sync.Mutex

	op      string
	cmdline string
	verbose bool

	counts     Counts
	storage    []string
	repository []string
	stats      []string
	chunks     int
	snapshots  int
}

// NewClassifier returns a classifier for one invocation.
func NewClassifier(inv Invocation) *Classifier {
	return &Classifier{
		op:      inv.Operation(),
		cmdline: inv.CommandLine(),
		verbose: inv.Options.LogVerbose,
		counts:  Counts{Tokens: make(map[string]int)},
	}
}

// Line classifies one output line without its trailing newline. It returns
// the per-line notifications to send, in order; the slice is empty unless
// log_verbose was requested and the line carried a severity token.
func (c *Classifier) Line(line string) []notify.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []notify.Message

	if warnToken.MatchString(line) {
		c.counts.Warnings++
		c.counts.Tokens["WARN"]++
		if c.verbose {
			out = append(out, notify.Message{Text: c.lineMessage(line), Severity: notify.Warning})
		}
	}

	if m := errorToken.FindStringSubmatch(line); m != nil {
		c.counts.Errors++
		c.counts.Tokens[m[1]]++
		if c.verbose {
			out = append(out, notify.Message{Text: c.lineMessage(line), Severity: notify.Error})
		}
	}

	// Statistics only come from -log formatted lines; this skips e.g. the
	// check -tabular table.
	if !logTimestamp.MatchString(line) {
		return out
	}

	if m := storageSet.FindStringSubmatch(line); m != nil {
		c.storage = append(c.storage, m[1])
	}
	if m := repositorySet.FindStringSubmatch(line); m != nil {
		c.repository = append(c.repository, m[1])
	}

	if c.op == "prune" {
		if chunkDelete.MatchString(line) {
			c.chunks++
		} else if snapshotGone.MatchString(line) {
			c.snapshots++
		}
	}

	if m := keywordLine.FindStringSubmatch(line); m != nil && statKeywords[m[1]] {
		switch {
		case m[1] == "SNAPSHOT_CHECK" && checkAllGood.MatchString(m[2]):
		case m[1] == "SNAPSHOT_COPY" && !copyProgress.MatchString(m[2]):
		default:
			c.stats = append(c.stats, m[2])
		}
	}

	return out
}

func (c *Classifier) lineMessage(line string) string {
	return fmt.Sprintf("[duplicacy %s] %s; %s", c.op, c.cmdline, line)
}

// Counts returns a copy of the severity tallies.
func (c *Classifier) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens := make(map[string]int, len(c.counts.Tokens))
	for k, v := range c.counts.Tokens {
		tokens[k] = v
	}
	return Counts{Warnings: c.counts.Warnings, Errors: c.counts.Errors, Tokens: tokens}
}

// Severity derives the overall outcome: any error line or a non-zero exit
// is an Error, otherwise any warning line is a Warning.
func (c *Classifier) Severity(exitCode int) notify.Severity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.severity(exitCode)
}

func (c *Classifier) severity(exitCode int) notify.Severity {
	switch {
	case c.counts.Errors > 0 || exitCode != 0:
		return notify.Error
	case c.counts.Warnings > 0:
		return notify.Warning
	default:
		return notify.Information
	}
}

// StartMessage is the log_at_start notification text.
func (c *Classifier) StartMessage() string {
	return fmt.Sprintf("[duplicacy starting %s] %s", c.op, c.cmdline)
}

// Summary renders the single completion notification.
func (c *Classifier) Summary(exitCode int) notify.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	sev := c.severity(exitCode)

	var b strings.Builder
	fmt.Fprintf(&b, "[duplicacy %s] %s", c.op, c.cmdline)
	if sev == notify.Information {
		b.WriteString(" succeeded")
	}

	for _, s := range c.storage {
		b.WriteString("; Storage: " + s)
	}
	for _, r := range c.repository {
		b.WriteString("; Repository: " + r)
	}

	if c.counts.Errors > 0 {
		fmt.Fprintf(&b, "; %d error(s)", c.counts.Errors)
		fatal, assert := c.counts.Tokens["FATAL"], c.counts.Tokens["ASSERT"]
		if fatal > 0 || assert > 0 {
			fmt.Fprintf(&b, " (ERROR %d, FATAL %d, ASSERT %d)", c.counts.Tokens["ERROR"], fatal, assert)
		}
	}
	if c.counts.Warnings > 0 {
		fmt.Fprintf(&b, "; %d warning(s)", c.counts.Warnings)
	}

	for _, s := range c.stats {
		b.WriteString("; " + s)
	}
	if c.chunks > 0 {
		fmt.Fprintf(&b, "; %d chunk(s) removed", c.chunks)
	}
	if c.snapshots > 0 {
		fmt.Fprintf(&b, "; %d snapshot(s) removed", c.snapshots)
	}

	if exitCode != 0 {
		fmt.Fprintf(&b, "; Exit status: %d", exitCode)
	}

	return notify.Message{Text: b.String(), Severity: sev}
}
