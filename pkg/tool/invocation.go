// Package tool builds and executes the single verifyBamID invocation of a job.
package tool

import "strings"

// DefaultCommand is the verifyBamID executable looked up on PATH.
const DefaultCommand = "verifyBamID"

// Invocation describes one run of the external tool.
type Invocation struct {
	Command    string
	VCF        string
	BAM        string
	BAI        string
	OutPrefix  string
	ExtraFlags []string
	Dir        string
}

// Args renders the argument vector. Extra flags have quote characters removed
// and are prefixed with "--". A flag that carries a value separated by
// whitespace is split so the value becomes its own argument.
func (inv Invocation) Args() []string {
	args := []string{
		"--vcf", inv.VCF,
		"--bam", inv.BAM,
		"--bai", inv.BAI,
		"--out", inv.OutPrefix,
	}
	for _, flag := range inv.ExtraFlags {
		args = append(args, RenderFlag(flag)...)
	}
	return args
}

// RenderFlag converts a bare flag such as "ignoreRG" or "maxDepth 1000" into
// argv entries: quotes are removed and the first field is prefixed with "--"
// as given. A flag that is empty after quote removal renders nothing.
func RenderFlag(flag string) []string {
	cleaned := strings.NewReplacer("'", "", `"`, "").Replace(flag)
	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	out = append(out, "--"+fields[0])
	return append(out, fields[1:]...)
}

func (inv Invocation) command() string {
	if inv.Command == "" {
		return DefaultCommand
	}
	return inv.Command
}

// CommandLine is the rendered command for logs. It is not shell-quoted and
// must never be passed to a shell.
func (inv Invocation) CommandLine() string {
	return strings.Join(append([]string{inv.command()}, inv.Args()...), " ")
}
