//go:build windows || darwin

package tunnel

import (
	"bytes"
	"fmt"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// runCmd runs cmd and folds its stderr into the returned error.
func runCmd(cmd *exec.Cmd) error {
	buf := new(bytes.Buffer)
	cmd.Stderr = buf
	log.WithField("cmd", cmd.String()).Debug("Configuring interface")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w (%s)", cmd.String(), err, buf.String())
	}
	return nil
}
