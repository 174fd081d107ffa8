package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/juliuskreutz/chive-master/chivemaster"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := chivemaster.Version
	originalCommitSHA := chivemaster.CommitSHA
	originalBuildTime := chivemaster.BuildTime

	t.Cleanup(
		func() {
			chivemaster.Version = originalVersion
			chivemaster.CommitSHA = originalCommitSHA
			chivemaster.BuildTime = originalBuildTime
		},
	)

	chivemaster.Version = "1.0.0"
	chivemaster.CommitSHA = "abc123"
	chivemaster.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		chivemaster.Version,
		chivemaster.CommitSHA,
		chivemaster.BuildTime,
	)
	assert.Equal(t, expected, output)
}
